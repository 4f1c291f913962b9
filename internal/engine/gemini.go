package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend serves a Gemini model through the Google GenAI SDK.
type GeminiBackend struct {
	name   string
	model  string
	client *genai.Client
}

// NewGeminiBackend creates a Gemini backend. baseURL overrides the API
// endpoint and is empty outside tests.
func NewGeminiBackend(ctx context.Context, name, apiKey, model, baseURL string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiBackend{name: name, model: model, client: client}, nil
}

func (b *GeminiBackend) Invoke(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return "", b.classify(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindMalformed, Provider: b.name, Err: errors.New("empty candidate text")}
	}
	return text, nil
}

func (b *GeminiBackend) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindForStatus(apiErr.Code), Provider: b.name, Status: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &Error{Kind: KindForStatus(apiErrPtr.Code), Provider: b.name, Status: apiErrPtr.Code, Err: err}
	}
	return Classify(b.name, err)
}
