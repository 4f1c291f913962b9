package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kalambet/fitgate/internal/config"
	"github.com/kalambet/fitgate/internal/engine"
	"github.com/kalambet/fitgate/internal/finetune"
	"github.com/kalambet/fitgate/internal/ollama"
	"github.com/kalambet/fitgate/internal/proxy"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

// Ranks of the configured providers. Lower is tried first; fine-tuned
// providers use rank 0.
const (
	rankDeepSeek   = 10
	rankOpenRouter = 20
	rankGemini     = 30
	rankOllama     = 40
)

// providerSet is what startup wires from configuration.
type providerSet struct {
	// deepseek drives the tuning API and keeps its own 429 retries; nil
	// when no DeepSeek key is configured.
	deepseek *proxy.Client
	ids      []string
}

// registerProviders adds every configured provider to reg. A provider that
// fails to initialize is logged and skipped so the others still serve.
func registerProviders(ctx context.Context, cfg config.Config, reg *router.Registry, progress io.Writer) providerSet {
	var set providerSet
	add := func(p router.Provider) {
		reg.Upsert(p)
		set.ids = append(set.ids, p.ID)
	}

	if cfg.DeepSeek.APIKey != "" {
		set.deepseek = proxy.NewClientWithBaseURL(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL)
		add(router.Provider{
			ID:      "deepseek",
			Model:   cfg.DeepSeek.Model,
			Rank:    rankDeepSeek,
			Backend: engine.NewOpenAIBackend("deepseek", cfg.DeepSeek.Model, set.deepseek.WithRetries(1)),
		})
	}

	if cfg.OpenRouter.APIKey != "" {
		c := proxy.NewClientWithBaseURL(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL).WithRetries(1)
		add(router.Provider{
			ID:      "openrouter",
			Model:   cfg.OpenRouter.Model,
			Rank:    rankOpenRouter,
			Backend: engine.NewOpenAIBackend("openrouter", cfg.OpenRouter.Model, c),
		})
	}

	if cfg.Gemini.APIKey != "" {
		b, err := engine.NewGeminiBackend(ctx, "gemini", cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
		if err != nil {
			slog.Warn("gemini provider disabled", "error", err)
		} else {
			add(router.Provider{ID: "gemini", Model: cfg.Gemini.Model, Rank: rankGemini, Backend: b})
		}
	}

	if cfg.Ollama.Enabled {
		b := engine.NewOllamaBackend("ollama", cfg.Ollama.BaseURL, cfg.Ollama.Model)
		if err := ollama.EnsureReady(ctx, b.Client(), cfg.Ollama.Model, progress); err != nil {
			slog.Warn("ollama provider disabled", "base_url", cfg.Ollama.BaseURL, "error", err)
		} else {
			add(router.Provider{ID: "ollama", Model: cfg.Ollama.Model, Rank: rankOllama, Backend: b})
		}
	}

	return set
}

// fineTunedBackend serves a fine-tuned model through the DeepSeek client.
// Router backends make a single attempt; quota is handled by failover.
func fineTunedBackend(c *proxy.Client) finetune.BackendFactory {
	c = c.WithRetries(1)
	return func(model string) engine.Backend {
		return engine.NewOpenAIBackend(finetune.ProviderPrefix+model, model, c)
	}
}

// restoreFineTuned re-registers fine-tuned providers recorded by earlier runs.
func restoreFineTuned(ctx context.Context, store *storage.Store, reg *router.Registry, newBackend finetune.BackendFactory) (int, error) {
	recs, err := store.ListProviders(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing stored providers: %w", err)
	}
	n := 0
	for _, r := range recs {
		if router.Capability(r.Capability) != router.FineTuned || !strings.HasPrefix(r.ID, finetune.ProviderPrefix) {
			continue
		}
		if newBackend == nil {
			slog.Warn("fine-tuned provider not restored, no DeepSeek key configured", "provider", r.ID)
			continue
		}
		reg.Upsert(router.Provider{
			ID:         r.ID,
			Model:      r.Model,
			Rank:       r.Rank,
			Capability: router.FineTuned,
			Backend:    newBackend(r.Model),
		})
		n++
	}
	return n, nil
}
