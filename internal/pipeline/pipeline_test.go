package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/fitgate/internal/composer"
	"github.com/kalambet/fitgate/internal/engine"
	"github.com/kalambet/fitgate/internal/history"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/proxy"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingBackend struct {
	calls atomic.Int32
	text  string
	err   error
}

func (b *countingBackend) Invoke(context.Context, engine.Request) (string, error) {
	b.calls.Add(1)
	if b.err != nil {
		return "", b.err
	}
	return b.text, nil
}

type fixture struct {
	pipeline *Pipeline
	log      *history.Log
	backend  *countingBackend
	reg      *router.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	set, err := intent.DefaultPatterns()
	if err != nil {
		t.Fatalf("DefaultPatterns: %v", err)
	}
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := history.NewLog(store, 10)
	reg := router.NewRegistry(time.Minute)
	b := &countingBackend{text: "Keep your knees over your toes."}
	reg.Upsert(router.Provider{ID: "deepseek", Model: "deepseek-chat", Rank: 10, Backend: b})
	rt := router.New(reg, composer.New(0), log, router.Options{Logger: quiet, AttemptTimeout: time.Second})

	return &fixture{
		pipeline: New(intent.New(set, intent.DefaultOptions()), rt, log, quiet),
		log:      log,
		backend:  b,
		reg:      reg,
	}
}

func TestHandle_SquatFormScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.pipeline.Handle(ctx, "alice", "How do I improve my squat form?")
	if !resp.Admitted {
		t.Fatalf("expected admitted, got %+v", resp)
	}
	if resp.Category != intent.FormCorrection && resp.Category != intent.Exercise {
		t.Errorf("category = %q", resp.Category)
	}
	if resp.Answer != "Keep your knees over your toes." || resp.Provider != "deepseek" {
		t.Errorf("unexpected answer: %+v", resp)
	}

	got, err := f.log.Recent(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one interaction appended, got %d", len(got))
	}
	if got[0].Query != "How do I improve my squat form?" || got[0].Category != string(resp.Category) {
		t.Errorf("unexpected interaction: %+v", got[0])
	}
}

func TestHandle_WeatherScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.pipeline.Handle(ctx, "alice", "What's the weather today?")
	if resp.Admitted || resp.Category != intent.Rejected {
		t.Errorf("expected rejection, got %+v", resp)
	}
	if resp.Answer != composer.RejectionMessage {
		t.Errorf("answer = %q, want the rejection template", resp.Answer)
	}
	if resp.Provider != "" {
		t.Errorf("provider = %q, want none", resp.Provider)
	}
	if n := f.backend.calls.Load(); n != 0 {
		t.Errorf("provider invoked %d times for a rejected query", n)
	}
	got, _ := f.log.Recent(ctx, "alice", 0)
	if len(got) != 0 {
		t.Errorf("context store changed: %d interactions", len(got))
	}
}

func TestHandle_FollowUpUsesContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pipeline.Handle(ctx, "bob", "Best deadlift and squat workout for strength")
	if !first.Admitted || first.Category != intent.Exercise {
		t.Fatalf("unexpected first response: %+v", first)
	}

	// Alone this would fall short of the threshold.
	resp := f.pipeline.Handle(ctx, "bob", "what about reps?")
	if !resp.Admitted {
		t.Errorf("follow-up should be admitted with context, got %+v", resp)
	}

	// Another user without history gets a rejection for the same text.
	other := f.pipeline.Handle(ctx, "carol", "what about reps?")
	if other.Admitted {
		t.Errorf("context leaked across users: %+v", other)
	}
}

func TestHandle_AllProvidersFailStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.backend.err = &engine.Error{Kind: engine.KindQuota, Err: errors.New("quota")}

	resp := f.pipeline.Handle(context.Background(), "alice", "protein intake for muscle building")
	if !resp.Admitted || !resp.Fallback || resp.Provider != router.BuiltinProvider {
		t.Errorf("expected builtin fallback, got %+v", resp)
	}
	if resp.Answer == "" {
		t.Error("fallback answer is empty")
	}
}

type brokenHistory struct{}

func (brokenHistory) Recent(context.Context, string, int) ([]storage.Interaction, error) {
	return nil, errors.New("database is locked")
}

func TestHandle_HistoryOutageDegrades(t *testing.T) {
	set, _ := intent.DefaultPatterns()
	reg := router.NewRegistry(time.Minute)
	reg.Upsert(router.Provider{ID: "a", Backend: &countingBackend{text: "ok"}})
	rt := router.New(reg, nil, nil, router.Options{Logger: quiet})
	p := New(intent.New(set, intent.DefaultOptions()), rt, brokenHistory{}, quiet)

	resp := p.Handle(context.Background(), "alice", "meal plan with protein")
	if !resp.Admitted || resp.Answer != "ok" {
		t.Errorf("expected an answer without context, got %+v", resp)
	}
}

func TestLastUserMessage(t *testing.T) {
	msgs := []proxy.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	if got := LastUserMessage(msgs); got != "second" {
		t.Errorf("LastUserMessage = %q, want second", got)
	}
	if got := LastUserMessage(nil); got != "" {
		t.Errorf("LastUserMessage(nil) = %q, want empty", got)
	}
}
