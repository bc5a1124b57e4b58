package protocol

import "encoding/json"

// Inbound WebSocket message types (client → server).
const (
	MsgInitAgent     = "init_agent"
	MsgQuery         = "query"
	MsgEditQuery     = "edit_query"
	MsgCancel        = "cancel"
	MsgEnhancePrompt = "enhance_prompt"
	MsgWorkspaceInfo = "workspace_info"
	MsgPing          = "ping"
	MsgReviewResult  = "review_result"
)

// Slash commands recognized inside query text.
const (
	CmdCompact = "/compact"
	CmdHelp    = "/help"
)

// Message is the envelope for every inbound WebSocket frame.
// Content is decoded into the typed payload for the given Type.
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// InitAgentContent configures the agent for this session.
type InitAgentContent struct {
	ModelName      string   `json:"model_name"`
	ToolArgs       ToolArgs `json:"tool_args"`
	ThinkingTokens int      `json:"thinking_tokens,omitempty"`
}

// ToolArgs toggles optional tool groups at init time.
type ToolArgs struct {
	SequentialThinking bool   `json:"sequential_thinking,omitempty"`
	DeepResearch       bool   `json:"deep_research,omitempty"`
	PDF                bool   `json:"pdf,omitempty"`
	MediaGeneration    bool   `json:"media_generation,omitempty"`
	AudioGeneration    bool   `json:"audio_generation,omitempty"`
	Browser            bool   `json:"browser,omitempty"`
	MemoryTool         string `json:"memory_tool,omitempty"` // "compactify-memory", "simple", "none"
	EnableReviewer     bool   `json:"enable_reviewer,omitempty"`
}

// QueryContent carries a user query. EditQuery shares the same shape.
type QueryContent struct {
	Text   string   `json:"text"`
	Resume bool     `json:"resume"`
	Files  []string `json:"files"`
}

// EnhancePromptContent asks the server to rewrite a draft prompt.
type EnhancePromptContent struct {
	ModelName string   `json:"model_name"`
	Text      string   `json:"text"`
	Files     []string `json:"files"`
}

// ReviewResultContent triggers the reviewer agent over the last answer.
type ReviewResultContent struct {
	UserInput string `json:"user_input"`
}
