package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pachai/internal/api"
	"github.com/kalambet/pachai/internal/composer"
	"github.com/kalambet/pachai/internal/config"
	"github.com/kalambet/pachai/internal/decision"
	"github.com/kalambet/pachai/internal/engine"
	"github.com/kalambet/pachai/internal/governance"
	"github.com/kalambet/pachai/internal/lifecycle"
	"github.com/kalambet/pachai/internal/pipeline"
	"github.com/kalambet/pachai/internal/product"
	"github.com/kalambet/pachai/internal/rulebook"
	"github.com/kalambet/pachai/internal/search"
	"github.com/kalambet/pachai/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pachai server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pachai server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pachai system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// pidFile records the daemon's PID under the data directory so stop can
// signal it.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "pachai.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", p, err)
	}
	return pid, nil
}

func (p pidFile) remove() {
	if err := os.Remove(string(p)); err != nil && !os.IsNotExist(err) {
		slog.Warn("removing PID file", "path", string(p), "error", err)
	}
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openGovernance opens storage, syncs the rule file into it and returns the
// store with a rule cache over it.
func openGovernance(ctx context.Context, cfg config.Config) (*storage.Store, *governance.RuleCache, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	report, err := rulebook.Sync(ctx, store, cfg.Governance.RulesFile)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("loading foundational veredicts: %w", err)
	}
	slog.Info("foundational veredicts synced", "total", report.Total, "inserted", report.Inserted, "updated", report.Updated)
	return store, governance.NewRuleCache(store, cfg.Governance.CacheTTL), nil
}

func newCompleter(ctx context.Context, cfg config.Config) (engine.Completer, error) {
	completer, err := engine.New(ctx, engine.Config{
		Backend:          cfg.Model.Backend,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OpenRouterAPIKey: cfg.OpenRouter.APIKey,
		GeminiAPIKey:     cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model backend: %w", err)
	}
	if m, ok := completer.(engine.ModelManager); ok {
		if err := engine.EnsureReady(ctx, m, cfg.Model.Name, os.Stderr); err != nil {
			return nil, err
		}
	}
	return completer, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "pachai version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.EnsureAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// A live /health means another daemon owns the port.
	pids := pidFileIn(cfg.Storage.DataDir)
	if healthy(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)) {
		if pid, pidErr := pids.read(); pidErr == nil {
			printWarning("pachai is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pachai is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := pids.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pids.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, rules, err := openGovernance(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return err
	}

	var capability search.Capability
	if cfg.Search.Enabled {
		capability = search.NewDuckDuckGo("", cfg.Search.MaxResults)
	}

	gov := governance.NewEngine(rules, store)
	lc := lifecycle.NewManager(store, store)
	orch := pipeline.NewOrchestrator(store, lc, gov, composer.New(0), completer, capability, pipeline.Options{
		Model:         cfg.Model.Name,
		SearchEnabled: cfg.Search.Enabled,
	})

	// Reload rules when the user file changes.
	if cfg.Governance.RulesFile != "" {
		dir := filepath.Dir(cfg.Governance.RulesFile)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("rules directory unavailable, hot reload disabled", "dir", dir, "error", err)
		} else if w, err := rulebook.NewWatcher(cfg.Governance.RulesFile, 0, func(ctx context.Context) {
			report, err := rulebook.Sync(ctx, store, cfg.Governance.RulesFile)
			if err != nil {
				slog.Warn("reloading foundational veredicts failed", "error", err)
				return
			}
			gov.Invalidate()
			slog.Info("foundational veredicts reloaded", "inserted", report.Inserted, "updated", report.Updated)
		}); err != nil {
			slog.Warn("rule file watcher unavailable", "error", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("rule file watcher stopped", "error", err)
				}
			}()
		}
	}

	handler := api.NewHandler(api.Deps{
		Products:      product.NewService(store),
		Conversations: lc,
		Veredicts:     decision.NewService(store, store),
		Turns:         orch,
		Governance:    governance.NewEngine(rules, nil),
		Audit:         store,
		Token:         apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pachai listening on %s (model %s/%s)\n", addr, cfg.Model.Backend, cfg.Model.Name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pids := pidFileIn(cfg.Storage.DataDir)
	pid, err := pids.read()
	if err != nil {
		printError("pachai is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pachai (PID %d): %v", pid, err)
		pids.remove()
		return err
	}

	printSuccess("Sent stop signal to pachai (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s (%s)", cfg.Model.Name, cfg.Model.Backend)
	completer, err := engine.New(ctx, engine.Config{
		Backend:          cfg.Model.Backend,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OpenRouterAPIKey: cfg.OpenRouter.APIKey,
		GeminiAPIKey:     cfg.Gemini.APIKey,
	})
	switch {
	case err != nil:
		printStatus("Backend", "misconfigured: %v", err)
	case probe(ctx, completer):
		printStatus("Backend", "reachable")
	default:
		printStatus("Backend", "not reachable")
	}

	printStatus("Search", "%s", enabledLabel(cfg.Search.Enabled))
	printStatus("Rules file", "%s", cfg.Governance.RulesFile)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func probe(ctx context.Context, c engine.Completer) bool {
	p, ok := c.(engine.Prober)
	return !ok || p.IsRunning(ctx)
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// healthy reports whether url answers 200 within two seconds.
func healthy(url string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
