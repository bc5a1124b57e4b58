package protocol

// Event kinds pushed from server to client over the session WebSocket.
// The set is closed: anything else on the wire is a protocol bug.
const (
	EventConnectionEstablished = "connection_established"
	EventAgentInitialized      = "agent_initialized"
	EventProcessing            = "processing"
	EventUserMessage           = "user_message"
	EventAssistantText         = "assistant_text"
	EventThinking              = "thinking"
	EventToolCall              = "tool_call"
	EventToolResult            = "tool_result"
	EventFileEdit              = "file_edit"
	EventWorkspaceInfo         = "workspace_info"
	EventPong                  = "pong"
	EventSystem                = "system"
	EventPromptGenerated       = "prompt_generated"
	EventStreamComplete        = "stream_complete"
	EventAgentResponse         = "agent_response"
	EventError                 = "error"
)

// KnownEventKinds lists every event kind the server may emit.
var KnownEventKinds = []string{
	EventConnectionEstablished,
	EventAgentInitialized,
	EventProcessing,
	EventUserMessage,
	EventAssistantText,
	EventThinking,
	EventToolCall,
	EventToolResult,
	EventFileEdit,
	EventWorkspaceInfo,
	EventPong,
	EventSystem,
	EventPromptGenerated,
	EventStreamComplete,
	EventAgentResponse,
	EventError,
}
