package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedResponse is wrapped by errors for responses that could not be
// decoded or carried no content.
var ErrMalformedResponse error = malformedError("malformed response")

type malformedError string

func (e malformedError) Error() string { return string(e) }

// Malformed marks the error as a soft failure of the response body.
func (malformedError) Malformed() bool { return true }

// StatusError is returned when Ollama answers with a non-200 status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama: status %d", e.Status)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.Status, e.Body)
}

// StatusCode reports the HTTP status.
func (e *StatusError) StatusCode() int { return e.Status }

// Message is one chat turn in Ollama's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultKeepAlive keeps a model resident between routed queries, which
// for a fallback provider may be minutes apart.
const DefaultKeepAlive = "30m"

// Client talks to a local Ollama server. Request deadlines come from the
// caller's context, except for the short health checks.
type Client struct {
	baseURL   string
	http      *http.Client
	keepAlive string
}

// New returns a client for the Ollama server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		keepAlive: DefaultKeepAlive,
	}
}

// send issues a request with an optional JSON body and returns the response
// once the status is 200. The caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// decode reads one JSON value from resp and closes it. Decode failures are
// reported as malformed.
func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// IsRunning reports whether the server answers within two seconds.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.send(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// ListModels returns the names of the locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.send(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := decode(resp, &tags); err != nil {
		return nil, err
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether name is installed. A bare name matches any tag.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent returns download completion, or -1 when the line has no size.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// PullModel downloads name and reads the progress stream to the end.
// onProgress may be nil.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := c.send(ctx, http.MethodPost, "/api/pull", pullRequest{Name: name, Stream: true})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", name, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		// A failed pull still answers 200 and reports the error in-stream.
		if p.Error != "" {
			return fmt.Errorf("pulling %s: %s", name, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	KeepAlive string    `json:"keep_alive,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// Chat sends a non-streaming chat request and returns the assistant text.
// An empty reply is reported as malformed.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/chat", chatRequest{
		Model:     model,
		Messages:  messages,
		KeepAlive: c.keepAlive,
	})
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", fmt.Errorf("%w: empty message content", ErrMalformedResponse)
	}
	return out.Message.Content, nil
}

// Warm loads model into memory without generating anything, so the first
// routed query does not pay the load time.
func (c *Client) Warm(ctx context.Context, model string) error {
	resp, err := c.send(ctx, http.MethodPost, "/api/generate", map[string]string{
		"model":      model,
		"keep_alive": c.keepAlive,
	})
	if err != nil {
		return err
	}
	var out struct {
		Done bool `json:"done"`
	}
	return decode(resp, &out)
}
