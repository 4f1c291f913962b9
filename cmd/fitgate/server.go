package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fitgate/internal/api"
	"github.com/kalambet/fitgate/internal/composer"
	"github.com/kalambet/fitgate/internal/config"
	"github.com/kalambet/fitgate/internal/finetune"
	"github.com/kalambet/fitgate/internal/history"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/pipeline"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

type serverOptions struct {
	mcp       bool
	ephemeral bool
}

var startOpts serverOptions

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fitgate server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(startOpts)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fitgate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fitgate server and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().BoolVar(&startOpts.mcp, "mcp", false, "also serve MCP on stdin/stdout")
	startCmd.Flags().BoolVar(&startOpts.ephemeral, "ephemeral", false, "keep history and jobs in memory only")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fitgate.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(opts serverOptions) error {
	fmt.Fprintf(os.Stderr, "fitgate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.EnsureAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataDir := cfg.Storage.DataDir
	if opts.ephemeral {
		dataDir = ":memory:"
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	patterns, err := loadPatterns(cfg.Classifier.PatternsFile)
	if err != nil {
		return err
	}
	classifier := intent.New(patterns, intent.Options{
		MinConfidence:   cfg.Classifier.MinConfidence,
		ContinuityBonus: cfg.Classifier.ContinuityBonus,
		IntentBonus:     cfg.Classifier.IntentBonus,
	})

	var backend history.Backend = store
	if opts.ephemeral {
		backend = history.NewMemoryStore()
	}
	log := history.NewLog(backend, cfg.Context.WindowSize)

	reg := router.NewRegistry(cfg.Router.Cooldown)
	providers := registerProviders(ctx, cfg, reg, os.Stderr)

	var newFineTuned finetune.BackendFactory
	if providers.deepseek != nil {
		newFineTuned = fineTunedBackend(providers.deepseek)
	}
	restored, err := restoreFineTuned(ctx, store, reg, newFineTuned)
	if err != nil {
		slog.Warn("fine-tuned providers not restored", "error", err)
	}
	if len(reg.Plan()) == 0 {
		slog.Warn("no provider is available, every admitted query will get the built-in answer")
	}
	slog.Info("providers registered", "providers", strings.Join(providers.ids, ","), "fine_tuned_restored", restored)

	rt := router.New(reg, composer.New(0), log, router.Options{
		AttemptTimeout: cfg.Router.AttemptTimeout,
		RetryBackoff:   cfg.Router.RetryBackoff,
	})
	p := pipeline.New(classifier, rt, log, nil)

	var jobs *finetune.Manager
	var runner *finetune.Runner
	if providers.deepseek != nil {
		jobs = finetune.NewManager(store, providers.deepseek, reg, newFineTuned, finetune.Options{
			BaseModel: cfg.FineTune.BaseModel,
			Suffix:    cfg.FineTune.Suffix,
		})
		runner = finetune.NewRunner(jobs, finetune.RunnerOptions{
			PollInterval: cfg.FineTune.PollInterval,
			AutoInterval: cfg.FineTune.AutoInterval,
			CorpusTarget: cfg.FineTune.CorpusTarget,
		})
	} else {
		slog.Info("fine-tuning disabled, no DeepSeek key configured")
	}

	deps := api.Deps{
		Pipeline:     p,
		History:      log,
		Registry:     reg,
		Jobs:         jobs,
		Limiter:      api.NewUserLimiter(cfg.API.RateLimit, cfg.API.RateBurst),
		Token:        apiToken,
		CorpusTarget: cfg.FineTune.CorpusTarget,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("fitgate listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if runner != nil {
		g.Go(func() error {
			runner.Run(gCtx)
			return nil
		})
	}

	if opts.mcp {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		g.Go(func() error {
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loadPatterns(path string) (*intent.PatternSet, error) {
	if path == "" {
		return intent.DefaultPatterns()
	}
	set, err := intent.LoadPatternsFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading classifier patterns: %w", err)
	}
	return set, nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("fitgate is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop fitgate (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to fitgate (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      config.APIToken(),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	if err := printProviders(ctx, client); err != nil {
		printWarning("could not list providers: %v", err)
	}

	printStatus("Window size", "%d", cfg.Context.WindowSize)
	printStatus("Min confidence", "%.2f", cfg.Classifier.MinConfidence)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
