package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/fitgate/internal/proxy"
)

func testRequest() Request {
	return Request{
		System: "You are a nutrition coach.",
		Messages: []Message{
			{Role: RoleUser, Content: "Is oatmeal good before a run?"},
			{Role: RoleAssistant, Content: "Yes, about an hour before."},
			{Role: RoleUser, Content: "How much?"},
		},
	}
}

func TestOpenAIBackend_Invoke(t *testing.T) {
	var got proxy.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Half a cup."}}]}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend("deepseek", "deepseek-chat", proxy.NewClientWithBaseURL("k", srv.URL))
	text, err := b.Invoke(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "Half a cup." {
		t.Errorf("text = %q", text)
	}
	if got.Model != "deepseek-chat" || len(got.Messages) != 4 || got.Messages[0].Role != RoleSystem {
		t.Errorf("unexpected upstream request: %+v", got)
	}
}

func TestOpenAIBackend_ClassifiesAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewOpenAIBackend("openrouter", "m", proxy.NewClientWithBaseURL("k", srv.URL))
	_, err := b.Invoke(context.Background(), testRequest())
	if KindOf(err) != KindAuth {
		t.Errorf("kind = %q, want auth (err=%v)", KindOf(err), err)
	}
}

func TestOllamaBackend_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hello from ollama"},
		})
	}))
	defer srv.Close()

	b := NewOllamaBackend("ollama", srv.URL, "llama3.2")
	result, err := b.Invoke(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "hello from ollama" {
		t.Errorf("got %q, want %q", result, "hello from ollama")
	}
}

func TestOllamaBackend_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	b := NewOllamaBackend("ollama", srv.URL, "llama3.2")
	_, err := b.Invoke(context.Background(), testRequest())
	if KindOf(err) != KindTimeout {
		t.Errorf("kind = %q, want timeout", KindOf(err))
	}
}

func TestGeminiBackend_Invoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Eat a banana."}]}}]}`)
	}))
	defer srv.Close()

	b, err := NewGeminiBackend(context.Background(), "gemini", "test-key", "gemini-2.5-flash", srv.URL)
	if err != nil {
		t.Fatalf("NewGeminiBackend: %v", err)
	}
	text, err := b.Invoke(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "Eat a banana." {
		t.Errorf("text = %q", text)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Errorf("request lacks systemInstruction: %v", body)
	}
	if contents, _ := body["contents"].([]any); len(contents) != 3 {
		t.Errorf("expected 3 contents, got %v", body["contents"])
	}
}

func TestGeminiBackend_QuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	b, err := NewGeminiBackend(context.Background(), "gemini", "test-key", "gemini-2.5-flash", srv.URL)
	if err != nil {
		t.Fatalf("NewGeminiBackend: %v", err)
	}
	_, err = b.Invoke(context.Background(), testRequest())
	if KindOf(err) != KindQuota {
		t.Errorf("kind = %q, want quota (err=%v)", KindOf(err), err)
	}
}

func TestGeminiBackend_RequiresKey(t *testing.T) {
	if _, err := NewGeminiBackend(context.Background(), "gemini", "", "m", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}
