package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fitgate/internal/composer"
	"github.com/kalambet/fitgate/internal/engine"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/storage"
)

// Defaults for Options.
const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultRetryBackoff   = 500 * time.Millisecond
)

// BuiltinProvider is reported when the answer came from the built-in fallback.
const BuiltinProvider = "builtin"

// ErrNotAdmitted is returned when Answer is called for a rejected query.
var ErrNotAdmitted = errors.New("query not admitted")

var errEmptyAnswer = errors.New("empty answer")

// Query is one user request.
type Query struct {
	UserID     string
	Text       string
	ReceivedAt time.Time
}

// Attempt records one provider call made while answering.
type Attempt struct {
	Provider string        `json:"provider"`
	Kind     engine.Kind   `json:"kind,omitempty"`
	Err      string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Result is the answer for an admitted query.
type Result struct {
	Text     string    `json:"text"`
	Provider string    `json:"provider"`
	Fallback bool      `json:"fallback"`
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Appender receives the interaction produced by a successful answer.
type Appender interface {
	Append(ctx context.Context, i storage.Interaction) error
}

// Options configure a Router.
type Options struct {
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
	Logger         *slog.Logger
}

// Router answers admitted queries by walking the registry's attempt plan
// until one provider succeeds.
type Router struct {
	reg      *Registry
	composer *composer.Composer
	history  Appender
	timeout  time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

// New creates a Router. history may be nil, in which case nothing is appended.
func New(reg *Registry, comp *composer.Composer, history Appender, opts Options) *Router {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Router{
		reg:      reg,
		composer: comp,
		history:  history,
		timeout:  opts.AttemptTimeout,
		backoff:  opts.RetryBackoff,
		logger:   opts.Logger,
	}
}

// Registry returns the registry the router reads from.
func (rt *Router) Registry() *Registry {
	return rt.reg
}

// Answer produces an answer for an admitted query. It only fails for
// queries that were not admitted; when every provider fails the result is
// the built-in fallback for the category.
func (rt *Router) Answer(ctx context.Context, q Query, cls intent.Classification, window []storage.Interaction) (Result, error) {
	if !cls.Admitted || cls.Category == intent.Rejected {
		return Result{}, ErrNotAdmitted
	}

	req := rt.composer.Compose(cls.Category, window, q.Text)
	var attempts []Attempt

	for _, p := range rt.reg.Plan() {
		text, ok := rt.try(ctx, p, req, &attempts)
		if ok {
			rt.record(ctx, q, cls, text, p.ID)
			return Result{Text: text, Provider: p.ID, Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	rt.reg.recordExhausted()
	rt.logger.Warn("all providers exhausted, serving fallback",
		"user", q.UserID, "category", cls.Category, "attempts", len(attempts), "ctx_err", ctx.Err())

	return Result{
		Text:     composer.Fallback(cls.Category),
		Provider: BuiltinProvider,
		Fallback: true,
		Attempts: attempts,
	}, nil
}

// try calls p, retrying once after a first timeout strike. It reports every
// outcome to the registry except failures caused by ctx itself.
func (rt *Router) try(ctx context.Context, p Provider, req engine.Request, attempts *[]Attempt) (string, bool) {
	for retry := 0; ; retry++ {
		text, latency, err := rt.invoke(ctx, p, req)
		if err == nil {
			rt.reg.Report(p.ID, nil)
			*attempts = append(*attempts, Attempt{Provider: p.ID, Latency: latency})
			return text, true
		}
		if ctx.Err() != nil {
			*attempts = append(*attempts, Attempt{Provider: p.ID, Kind: engine.KindTimeout, Err: ctx.Err().Error(), Latency: latency})
			return "", false
		}

		state := rt.reg.Report(p.ID, err)

		kind := engine.KindOf(err)
		*attempts = append(*attempts, Attempt{Provider: p.ID, Kind: kind, Err: err.Error(), Latency: latency})
		rt.logger.Warn("provider attempt failed",
			"provider", p.ID, "kind", kind, "state", state, "latency", latency, "error", err)

		if kind != engine.KindTimeout || retry > 0 || state == Unavailable {
			return "", false
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(rt.backoff):
		}
	}
}

func (rt *Router) invoke(ctx context.Context, p Provider, req engine.Request) (string, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.Backend.Invoke(attemptCtx, req)
	latency := time.Since(start)

	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = &engine.Error{Kind: engine.KindTimeout, Provider: p.ID, Err: err}
	} else if err != nil {
		err = engine.Classify(p.ID, err)
	} else if strings.TrimSpace(text) == "" {
		err = &engine.Error{Kind: engine.KindMalformed, Provider: p.ID, Err: errEmptyAnswer}
	}
	return text, latency, err
}

// record appends the interaction. Failures are logged; the answer stands.
func (rt *Router) record(ctx context.Context, q Query, cls intent.Classification, text, provider string) {
	if rt.history == nil {
		return
	}
	created := q.ReceivedAt
	if created.IsZero() {
		created = time.Now()
	}
	in := storage.Interaction{
		ID:        uuid.NewString(),
		UserID:    q.UserID,
		CreatedAt: created.UTC(),
		Query:     q.Text,
		Category:  string(cls.Category),
		Answer:    text,
		Provider:  provider,
	}
	// The answer was produced; do not lose the entry to a caller hanging up.
	if err := rt.history.Append(context.WithoutCancel(ctx), in); err != nil {
		rt.logger.Error("appending interaction failed", "user", q.UserID, "provider", provider, "error", err)
	}
}
