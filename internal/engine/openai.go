package engine

import (
	"context"

	"github.com/kalambet/fitgate/internal/proxy"
)

// OpenAIBackend serves a model through an OpenAI-compatible API: DeepSeek,
// OpenRouter or a fine-tuned DeepSeek model.
type OpenAIBackend struct {
	name   string
	model  string
	client *proxy.Client
}

// NewOpenAIBackend creates a backend named name calling model through client.
func NewOpenAIBackend(name, model string, client *proxy.Client) *OpenAIBackend {
	return &OpenAIBackend{name: name, model: model, client: client}
}

func (b *OpenAIBackend) Invoke(ctx context.Context, req Request) (string, error) {
	msgs := req.WithSystem()
	wire := make([]proxy.Message, len(msgs))
	for i, m := range msgs {
		wire[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}

	text, err := b.client.Complete(ctx, proxy.ChatRequest{
		Model:    b.model,
		Messages: wire,
	})
	if err != nil {
		return "", Classify(b.name, err)
	}
	return text, nil
}
