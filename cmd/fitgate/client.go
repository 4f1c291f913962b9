package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kalambet/fitgate/internal/config"
)

// apiClient talks to a running fitgate server on loopback.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   config.APIToken(),
		// Provider fallback can take several attempt timeouts.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is fitgate running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// apiError is the error envelope every non-2xx response carries.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// decodeJSON closes resp and decodes it into v. A nil v discards the body.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
