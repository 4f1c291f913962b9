package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "int"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FITGATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "FITGATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FITGATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "classifier.min_confidence", typ: kFloat, env: "FITGATE_CLASSIFIER_MIN_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Classifier.MinConfidence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Classifier.MinConfidence },
	},
	{
		key: "classifier.continuity_bonus", typ: kFloat, env: "FITGATE_CLASSIFIER_CONTINUITY_BONUS",
		apply:   func(cfg *Config, v any) { cfg.Classifier.ContinuityBonus = v.(float64) },
		extract: func(cfg Config) any { return cfg.Classifier.ContinuityBonus },
	},
	{
		key: "classifier.intent_bonus", typ: kFloat, env: "FITGATE_CLASSIFIER_INTENT_BONUS",
		apply:   func(cfg *Config, v any) { cfg.Classifier.IntentBonus = v.(float64) },
		extract: func(cfg Config) any { return cfg.Classifier.IntentBonus },
	},
	{
		key: "classifier.patterns_file", typ: kString, env: "FITGATE_CLASSIFIER_PATTERNS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Classifier.PatternsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.PatternsFile },
	},
	{
		key: "context.window_size", typ: kInt, env: "FITGATE_CONTEXT_WINDOW_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Context.WindowSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.WindowSize },
	},
	{
		key: "router.cooldown", typ: kDuration, env: "FITGATE_ROUTER_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Router.Cooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Router.Cooldown },
	},
	{
		key: "router.attempt_timeout", typ: kDuration, env: "FITGATE_ROUTER_ATTEMPT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Router.AttemptTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Router.AttemptTimeout },
	},
	{
		key: "router.retry_backoff", typ: kDuration, env: "FITGATE_ROUTER_RETRY_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Router.RetryBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Router.RetryBackoff },
	},
	{
		key: "deepseek.api_key", typ: kString, env: "FITGATE_DEEPSEEK_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.DeepSeek.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.DeepSeek.APIKey },
	},
	{
		key: "deepseek.base_url", typ: kString, env: "FITGATE_DEEPSEEK_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.DeepSeek.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.DeepSeek.BaseURL },
	},
	{
		key: "deepseek.model", typ: kString, env: "FITGATE_DEEPSEEK_MODEL",
		apply:   func(cfg *Config, v any) { cfg.DeepSeek.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.DeepSeek.Model },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "FITGATE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "FITGATE_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.model", typ: kString, env: "FITGATE_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "gemini.api_key", typ: kString, env: "FITGATE_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "FITGATE_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.model", typ: kString, env: "FITGATE_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "ollama.enabled", typ: kBool, env: "FITGATE_OLLAMA_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ollama.Enabled },
	},
	{
		key: "ollama.base_url", typ: kString, env: "FITGATE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "FITGATE_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "finetune.corpus_target", typ: kInt, env: "FITGATE_FINETUNE_CORPUS_TARGET",
		apply:   func(cfg *Config, v any) { cfg.FineTune.CorpusTarget = v.(int) },
		extract: func(cfg Config) any { return cfg.FineTune.CorpusTarget },
	},
	{
		key: "finetune.base_model", typ: kString, env: "FITGATE_FINETUNE_BASE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.FineTune.BaseModel = v.(string) },
		extract: func(cfg Config) any { return cfg.FineTune.BaseModel },
	},
	{
		key: "finetune.suffix", typ: kString, env: "FITGATE_FINETUNE_SUFFIX",
		apply:   func(cfg *Config, v any) { cfg.FineTune.Suffix = v.(string) },
		extract: func(cfg Config) any { return cfg.FineTune.Suffix },
	},
	{
		key: "finetune.poll_interval", typ: kDuration, env: "FITGATE_FINETUNE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.FineTune.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.FineTune.PollInterval },
	},
	{
		key: "finetune.auto_interval", typ: kDuration, env: "FITGATE_FINETUNE_AUTO_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.FineTune.AutoInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.FineTune.AutoInterval },
	},
	{
		key: "api.rate_limit", typ: kFloat, env: "FITGATE_API_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.API.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.API.RateLimit },
	},
	{
		key: "api.rate_burst", typ: kInt, env: "FITGATE_API_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.API.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.API.RateBurst },
	},
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts a raw string into the key's Go type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("could not parse config value, using default", "key", s.key, "value", raw, "type", s.typ, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("could not parse env var, using default", "env", s.env, "value", raw, "type", s.typ, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
