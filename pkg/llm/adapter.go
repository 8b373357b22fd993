package llm

import "context"

// Message is one turn of the conversation context sent with a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamAdapter is the contract for any chat-completion vendor. Stream yields
// text deltas as the model produces them; the channel is closed on the
// model's end-of-stream marker or on error. A stream is not restartable.
type StreamAdapter interface {
	Name() string
	Stream(ctx context.Context, messages []Message) (<-chan string, error)
}
