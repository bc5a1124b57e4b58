package tools

import "context"

// Termination tool names. The agent loop treats a call to its configured
// termination tool as the end of the run.
const (
	ReturnControlToUserName         = "return_control_to_user"
	CompleteName                    = "complete"
	ReturnControlToGeneralAgentName = "return_control_to_general_agent"
	MessageUserName                 = "message_user"
)

// ReturnControlToUserTool ends an interactive run, handing control back
// to the user.
type ReturnControlToUserTool struct{}

func (ReturnControlToUserTool) Name() string { return ReturnControlToUserName }

func (ReturnControlToUserTool) Description() string {
	return "Return control to the user when the task is complete or when user input is required to proceed."
}

func (ReturnControlToUserTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (ReturnControlToUserTool) Run(context.Context, Context, map[string]any) (string, error) {
	return "Completed the task.", nil
}

// CompleteTool ends a non-interactive run with a final answer.
type CompleteTool struct{}

func (CompleteTool) Name() string { return CompleteName }

func (CompleteTool) Description() string {
	return "Signal that the task is fully complete, providing the final answer."
}

func (CompleteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"description": "The final answer to the task",
			},
		},
		"required": []any{"answer"},
	}
}

func (CompleteTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	return optionalString(input, "answer"), nil
}

// ReturnControlToGeneralAgentTool is the reviewer loop's termination
// tool.
type ReturnControlToGeneralAgentTool struct{}

func (ReturnControlToGeneralAgentTool) Name() string { return ReturnControlToGeneralAgentName }

func (ReturnControlToGeneralAgentTool) Description() string {
	return "Return control to the general agent once the review is finished and feedback is ready."
}

func (ReturnControlToGeneralAgentTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (ReturnControlToGeneralAgentTool) Run(context.Context, Context, map[string]any) (string, error) {
	return "Review finished.", nil
}

// MessageUserTool carries the agent's user-facing progress messages. The
// reviewer flow extracts the last call's text as the final answer.
type MessageUserTool struct{}

func (MessageUserTool) Name() string { return MessageUserName }

func (MessageUserTool) Description() string {
	return "Send a message to the user: progress updates, results, and questions. The text is shown verbatim."
}

func (MessageUserTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The message text to show the user",
			},
		},
		"required": []any{"text"},
	}
}

func (MessageUserTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	if _, err := stringInput(input, "text"); err != nil {
		return err.Error(), nil
	}
	return "Message sent to user.", nil
}
