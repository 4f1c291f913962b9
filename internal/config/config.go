package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full runtime configuration. It is read once at startup.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Classifier ClassifierConfig
	Context    ContextConfig
	Router     RouterConfig
	DeepSeek   ProviderConfig
	OpenRouter ProviderConfig
	Gemini     ProviderConfig
	Ollama     OllamaConfig
	FineTune   FineTuneConfig
	API        APIConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type ClassifierConfig struct {
	MinConfidence   float64
	ContinuityBonus float64
	IntentBonus     float64
	// PatternsFile replaces the embedded pattern set when non-empty.
	PatternsFile string
}

type ContextConfig struct {
	WindowSize int
}

type RouterConfig struct {
	Cooldown       time.Duration
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
}

// ProviderConfig configures one hosted provider. A provider without an API
// key is not registered.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	Enabled bool
	BaseURL string
	Model   string
}

type FineTuneConfig struct {
	CorpusTarget int
	BaseModel    string
	Suffix       string
	PollInterval time.Duration
	// AutoInterval enables scheduled submissions when > 0.
	AutoInterval time.Duration
}

type APIConfig struct {
	RateLimit float64
	RateBurst int
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Classifier: ClassifierConfig{
			MinConfidence:   0.3,
			ContinuityBonus: 0.15,
			IntentBonus:     0.1,
		},
		Context: ContextConfig{WindowSize: 10},
		Router: RouterConfig{
			Cooldown:       5 * time.Minute,
			AttemptTimeout: 30 * time.Second,
			RetryBackoff:   500 * time.Millisecond,
		},
		DeepSeek: ProviderConfig{
			BaseURL: "https://api.deepseek.com/v1",
			Model:   "deepseek-chat",
		},
		OpenRouter: ProviderConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "deepseek/deepseek-chat",
		},
		Gemini: ProviderConfig{
			Model: "gemini-2.5-flash",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		FineTune: FineTuneConfig{
			CorpusTarget: 200,
			BaseModel:    "deepseek-chat",
			Suffix:       "fitness-mental-health-v1",
			PollInterval: 30 * time.Second,
		},
		API: APIConfig{
			RateLimit: 2,
			RateBurst: 5,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fitgate.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a TOML file at $XDG_CONFIG_HOME/fitgate/config.toml
// and secrets fall back to a 0600 file under $XDG_DATA_HOME/fitgate.
//
// Environment variables (FITGATE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that at least one provider is usable.
func (c Config) Validate() error {
	if !c.HasProvider() {
		return errors.New("missing required config: no provider configured. " +
			"Set one of FITGATE_DEEPSEEK_API_KEY, FITGATE_OPENROUTER_API_KEY, FITGATE_GEMINI_API_KEY" +
			apiKeyHint() + ", or enable a local model with FITGATE_OLLAMA_ENABLED=true")
	}

	var problems []string
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("classifier.min_confidence must be within [0,1], got %v", c.Classifier.MinConfidence))
	}
	if c.Context.WindowSize <= 0 {
		problems = append(problems, fmt.Sprintf("context.window_size must be positive, got %d", c.Context.WindowSize))
	}
	if c.Router.Cooldown <= 0 {
		problems = append(problems, "router.cooldown must be positive")
	}
	if c.Router.AttemptTimeout <= 0 {
		problems = append(problems, "router.attempt_timeout must be positive")
	}
	if c.FineTune.CorpusTarget <= 0 {
		problems = append(problems, "finetune.corpus_target must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasProvider reports whether any reasoning provider is configured.
func (c Config) HasProvider() bool {
	return c.DeepSeek.APIKey != "" || c.OpenRouter.APIKey != "" || c.Gemini.APIKey != "" || c.Ollama.Enabled
}
