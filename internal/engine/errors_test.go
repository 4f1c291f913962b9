package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kalambet/fitgate/internal/ollama"
	"github.com/kalambet/fitgate/internal/proxy"
)

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusUnauthorized:        KindAuth,
		http.StatusForbidden:           KindAuth,
		http.StatusPaymentRequired:     KindQuota,
		http.StatusTooManyRequests:     KindQuota,
		http.StatusRequestTimeout:      KindTimeout,
		http.StatusInternalServerError: KindTimeout,
		http.StatusBadGateway:          KindTimeout,
		http.StatusServiceUnavailable:  KindTimeout,
		http.StatusBadRequest:          KindMalformed,
		http.StatusNotFound:            KindMalformed,
	}
	for status, want := range cases {
		if got := KindForStatus(status); got != want {
			t.Errorf("KindForStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"proxy 401", fmt.Errorf("wrapped: %w", &proxy.StatusError{Status: 401}), KindAuth},
		{"proxy 429", &proxy.StatusError{Status: 429}, KindQuota},
		{"ollama 503", &ollama.StatusError{Status: 503}, KindTimeout},
		{"proxy malformed", fmt.Errorf("%w: bad json", proxy.ErrMalformedResponse), KindMalformed},
		{"ollama malformed", fmt.Errorf("%w: empty", ollama.ErrMalformedResponse), KindMalformed},
		{"deadline", fmt.Errorf("executing request: %w", context.DeadlineExceeded), KindTimeout},
		{"network", errors.New("dial tcp: connection refused"), KindTimeout},
	}
	for _, tc := range cases {
		err := Classify("deepseek", tc.err)
		if got := KindOf(err); got != tc.want {
			t.Errorf("%s: kind = %q, want %q", tc.name, got, tc.want)
		}
		var e *Error
		if !errors.As(err, &e) || e.Provider != "deepseek" {
			t.Errorf("%s: expected *Error for deepseek, got %v", tc.name, err)
		}
		if !errors.Is(err, tc.err) {
			t.Errorf("%s: classified error does not wrap the original", tc.name)
		}
	}
}

func TestClassifyKeepsExistingError(t *testing.T) {
	orig := &Error{Kind: KindQuota, Err: errors.New("billing")}
	got := Classify("gemini", orig)
	if got != orig {
		t.Fatal("expected the same *Error back")
	}
	if orig.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", orig.Provider)
	}
	if Classify("x", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestRequestWithSystem(t *testing.T) {
	req := Request{
		System:   "coach",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}
	msgs := req.WithSystem()
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Content != "hi" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
	if got := (Request{Messages: req.Messages}).WithSystem(); len(got) != 1 {
		t.Errorf("empty system must be omitted, got %+v", got)
	}
}
