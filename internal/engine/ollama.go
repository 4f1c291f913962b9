package engine

import (
	"context"

	"github.com/kalambet/fitgate/internal/ollama"
)

// OllamaBackend serves a model from a local Ollama instance.
type OllamaBackend struct {
	name   string
	model  string
	client *ollama.Client
}

// NewOllamaBackend creates a backend for model on the Ollama server at baseURL.
func NewOllamaBackend(name, baseURL, model string) *OllamaBackend {
	return &OllamaBackend{name: name, model: model, client: ollama.New(baseURL)}
}

// Client exposes the underlying client for readiness checks.
func (b *OllamaBackend) Client() *ollama.Client {
	return b.client
}

func (b *OllamaBackend) Invoke(ctx context.Context, req Request) (string, error) {
	msgs := req.WithSystem()
	wire := make([]ollama.Message, len(msgs))
	for i, m := range msgs {
		wire[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	text, err := b.client.Chat(ctx, b.model, wire)
	if err != nil {
		return "", Classify(b.name, err)
	}
	return text, nil
}
