package ai

import "context"

// Message is one turn in a chat-completions request. ToolCalls is set on
// assistant turns that requested tools; ToolCallID ties a "tool" turn back to
// the call it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function schema advertised to the model.
type Tool struct {
	Type     string     `json:"type"`
	Function ToolSchema `json:"function"`
}

type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content     string
	ToolCalls   []ToolCall
	Model       string
	TotalTokens int
}

// Client is the LLM provider contract. Implementations must be safe for
// concurrent use across tenant pipelines.
type Client interface {
	ChatCompletion(ctx context.Context, req Request) (Response, error)
}

// NewToolSchema builds a function tool definition with a JSON-schema object
// parameter block.
func NewToolSchema(name, description string, properties map[string]any, required []string) Tool {
	if required == nil {
		required = []string{}
	}
	return Tool{
		Type: "function",
		Function: ToolSchema{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}
