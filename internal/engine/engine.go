package engine

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral reasoning request. System carries the
// instruction; Messages alternate user/assistant and end with the user turn.
type Request struct {
	System   string
	Messages []Message
}

// Backend abstracts a reasoning provider (DeepSeek, OpenRouter, Gemini, a
// local Ollama model or a fine-tuned model). Implementations return errors
// classified by Classify so callers can branch on Kind.
type Backend interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// WithSystem returns the request as a flat message list with the system
// instruction first, as OpenAI-style APIs expect.
func (r Request) WithSystem() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	if r.System != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.System})
	}
	return append(out, r.Messages...)
}
