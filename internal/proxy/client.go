package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// DeepSeekBaseURL is the default upstream for chat and fine-tuning.
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	// OpenRouterBaseURL serves the same models through OpenRouter.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	defaultTimeout = 60 * time.Second
	uploadTimeout  = 300 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxErrorBody   = 4096
)

// ErrMalformedResponse is wrapped by errors for response bodies that could
// not be decoded or carried no usable content.
var ErrMalformedResponse error = malformedError("malformed response")

type malformedError string

func (e malformedError) Error() string { return string(e) }

// Malformed marks the error as a soft failure of the response body.
func (malformedError) Malformed() bool { return true }

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// StatusCode reports the HTTP status.
func (e *StatusError) StatusCode() int { return e.Status }

// Client talks to an OpenAI-compatible API (DeepSeek, OpenRouter).
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
	retries    int
}

// NewClient creates a client for the DeepSeek API with the given key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DeepSeekBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/fitgate",
		title:   "fitgate",
		retries: maxRetries,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithRetries returns a copy of c that makes at most n attempts per
// Complete call. With n == 1 a 429 surfaces immediately, which is what a
// caller running its own failover wants.
func (c *Client) WithRetries(n int) *Client {
	cp := *c
	cp.retries = max(n, 1)
	return &cp
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete sends a non-streaming chat completion and returns the first
// choice's content. HTTP 429 is retried with exponential backoff before it
// is surfaced as a *StatusError.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range c.retries {
		text, err := c.doComplete(ctx, body)
		if err == nil {
			return text, nil
		}

		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < c.retries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("rate limited after %d retries: %w", c.retries, lastErr)
}

func isRateLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusTooManyRequests
}

func (c *Client) doComplete(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var cr ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%w: decoding completion: %v", ErrMalformedResponse, err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: no completion content", ErrMalformedResponse)
	}
	return cr.Choices[0].Message.Content, nil
}

// checkStatus turns a non-2xx response into a *StatusError carrying a
// bounded prefix of the body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}

// doJSON performs a request with an optional JSON body and decodes a JSON
// response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
