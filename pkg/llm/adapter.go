package llm

import "context"

// Message is one role-tagged conversation entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool describes one capability offered to the model.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult carries one executed tool's textual outcome back to the
// model, keyed by the originating call id.
type ToolResult struct {
	CallID  string
	Content string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is one chat turn: the new user message plus bounded history,
// retrieved memories, and the declared tool schema.
type Request struct {
	UserID   string
	Message  string
	History  []Message
	Memories []string
	Tools    []Tool
}

type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Adapter is the language-model boundary. ChatWithToolResults issues the
// single follow-up call that folds one round of tool results into a
// final answer; implementations must not trigger further tool rounds.
type Adapter interface {
	Chat(ctx context.Context, req Request) (Response, error)
	ChatWithToolResults(ctx context.Context, req Request, first Response, results []ToolResult) (Response, error)
	Name() string
}
