package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/fitgate/internal/composer"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/proxy"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

// Query is one user request.
type Query = router.Query

// Response is what the outermost boundary returns for every query.
type Response struct {
	Category   intent.Category  `json:"category"`
	Confidence float64          `json:"confidence"`
	Admitted   bool             `json:"admitted"`
	Answer     string           `json:"answer"`
	Provider   string           `json:"provider_used,omitempty"`
	Fallback   bool             `json:"fallback,omitempty"`
	Matched    []string         `json:"matched,omitempty"`
	Attempts   []router.Attempt `json:"attempts,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// Answerer routes an admitted query to a provider. Implemented by *router.Router.
type Answerer interface {
	Answer(ctx context.Context, q router.Query, cls intent.Classification, window []storage.Interaction) (router.Result, error)
}

// Windower reads a user's recent history. Implemented by *history.Log.
type Windower interface {
	Recent(ctx context.Context, userID string, limit int) ([]storage.Interaction, error)
}

// Pipeline runs classification, routing and history for each query.
type Pipeline struct {
	classifier *intent.Classifier
	router     Answerer
	history    Windower
	logger     *slog.Logger
}

// New creates a Pipeline. logger may be nil.
func New(classifier *intent.Classifier, rt Answerer, history Windower, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		router:     rt,
		history:    history,
		logger:     logger,
	}
}

// Handle answers one query. It never fails: out-of-domain queries get the
// rejection message, provider failures get the built-in fallback, and a
// history outage only costs the context window.
func (p *Pipeline) Handle(ctx context.Context, userID, text string) (resp Response) {
	start := time.Now()
	defer func() {
		resp.DurationMs = time.Since(start).Milliseconds()
	}()

	q := Query{UserID: userID, Text: text, ReceivedAt: start}

	window, err := p.history.Recent(ctx, userID, 0)
	if err != nil {
		p.logger.Warn("pipeline: loading context window failed, answering without context",
			"user", userID, "error", err)
		window = nil
	}

	cls := p.classifier.Classify(text, window)
	resp.Category = cls.Category
	resp.Confidence = cls.Confidence
	resp.Matched = cls.Matched

	if !cls.Admitted {
		p.logger.Debug("pipeline: query rejected", "user", userID, "confidence", cls.Confidence)
		resp.Category = intent.Rejected
		resp.Answer = composer.RejectionMessage
		return resp
	}
	resp.Admitted = true

	res, err := p.router.Answer(ctx, q, cls, window)
	if err != nil {
		p.logger.Error("pipeline: router refused admitted query", "user", userID, "error", err)
		res = router.Result{
			Text:     composer.Fallback(cls.Category),
			Provider: router.BuiltinProvider,
			Fallback: true,
		}
	}

	resp.Answer = res.Text
	resp.Provider = res.Provider
	resp.Fallback = res.Fallback
	resp.Attempts = res.Attempts

	p.logger.Debug("pipeline: query answered",
		"user", userID,
		"category", cls.Category,
		"provider", res.Provider,
		"fallback", res.Fallback,
		"attempts", len(res.Attempts),
	)
	return resp
}

// LastUserMessage returns the content of the last "user" message, or "".
func LastUserMessage(msgs []proxy.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
