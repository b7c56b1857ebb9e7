// Command voxtrigger listens to a microphone, transcribes speech offline and
// runs the shell command bound to each recognised trigger phrase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/internal/app"
	"github.com/MrWong99/voxtrigger/internal/config"
	"github.com/MrWong99/voxtrigger/internal/health"
	"github.com/MrWong99/voxtrigger/internal/inference"
	"github.com/MrWong99/voxtrigger/internal/observe"
	"github.com/MrWong99/voxtrigger/internal/trigger"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt/whisperserver"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if flags.ConfigPath != "" {
		var err error
		cfg, err = config.Load(flags.ConfigPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voxtrigger: config file %q not found\n", flags.ConfigPath)
			} else {
				fmt.Fprintf(os.Stderr, "voxtrigger: %v\n", err)
			}
			return 1
		}
	}
	flags.Apply(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxtrigger: invalid configuration:\n%v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxtrigger starting", "config", flags.ConfigPath, "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Trigger table ─────────────────────────────────────────────────────────
	table := trigger.DefaultTable()
	if cfg.Triggers.File != "" {
		table, err = trigger.LoadFile(afero.NewOsFs(), cfg.Triggers.File)
		if err != nil {
			slog.Error("failed to load trigger file", "path", cfg.Triggers.File, "err", err)
			return 1
		}
	}
	slog.Info("trigger table loaded", "triggers", table.Len(), "phrases", table.Phrases())

	// ── Speech model ──────────────────────────────────────────────────────────
	engine, err := newEngine(cfg.ASR)
	if err != nil {
		slog.Error("failed to create speech engine", "err", err)
		return 1
	}
	adapter := inference.New(engine, inference.Config{
		Model:      cfg.ASR.Model,
		ModelDir:   cfg.ASR.ModelDir,
		Policy:     inference.Policy(cfg.ASR.Device),
		Precision:  cfg.ASR.Compute,
		Threads:    cfg.ASR.CPUThreads,
		Language:   cfg.ASR.Language,
		QueueDepth: cfg.ASR.QueueDepth,
	}, inference.WithMetrics(metrics))

	if cfg.ASR.Prefetch {
		if err := adapter.Prefetch(ctx); err != nil {
			slog.Warn("model prefetch failed", "err", err)
		}
	}
	if err := adapter.Load(ctx); err != nil {
		slog.Error("failed to load speech model", "model", cfg.ASR.Model, "err", err)
		return 1
	}
	adapter.Warmup(ctx, cfg.ASR.Warmup)

	application, err := app.New(cfg, app.Deps{Adapter: adapter, Table: table}, app.WithMetrics(metrics))
	if err != nil {
		_ = adapter.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Live reload ───────────────────────────────────────────────────────────
	if cfg.Reload {
		if w, err := watchConfig(flags.ConfigPath, &level, application); err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Admin server ──────────────────────────────────────────────────────────
	var admin *http.Server
	if cfg.Admin.ListenAddr != "" {
		admin = newAdminServer(cfg.Admin.ListenAddr, application, tel, metrics)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg, adapter, table)
	slog.Info("listening for triggers, press Ctrl+C to stop")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newEngine(cfg config.ASRConfig) (stt.Engine, error) {
	if cfg.Backend == config.BackendWhisperServer {
		return whisperserver.New(cfg.ServerURL)
	}
	return whisper.New(), nil
}

// watchConfig applies the live-reloadable parts of a changed config file.
func watchConfig(path string, level *slog.LevelVar, application *app.App) (*config.Watcher[*config.Config], error) {
	if path == "" {
		return nil, errors.New("reload needs --config")
	}
	return config.WatchConfig(path, func(old, next *config.Config) {
		if err := config.Validate(next); err != nil {
			slog.Warn("reloaded config is invalid, ignoring", "err", err)
			return
		}
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.AllowRemoteCommandsChanged {
			application.State().SetAllowRemoteCommands(d.AllowRemoteCommands)
			slog.Info("remote command policy changed", "allow", d.AllowRemoteCommands)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
		}
	})
}

func newAdminServer(addr string, application *app.App, tel *observe.Telemetry, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.Handler())
	health.New(application.Checkers(), health.WithStatus(func() any { return application.Status() })).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, adapter *inference.Adapter, table *trigger.Table) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      voxtrigger : startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Input", string(cfg.Audio.Input)+" "+cfg.Audio.Device)
	printRow("VAD", fmt.Sprintf("%s level %d", cfg.VAD.Kind, cfg.VAD.Level))
	printRow("Model", cfg.ASR.Model)
	device := string(adapter.Device()) + "/" + string(adapter.Precision())
	if adapter.FellBack() {
		device += " (fallback)"
	}
	printRow("Device", device)
	printRow("Triggers", fmt.Sprint(table.Len()))
	printRow("Threshold", fmt.Sprintf("%.2f", cfg.Matcher.Threshold))
	if cfg.Control.Enabled {
		printRow("Control", fmt.Sprintf("%s:%d", cfg.Control.Host, cfg.Control.Port))
	} else {
		printRow("Control", "(disabled)")
	}
	if cfg.Admin.ListenAddr != "" {
		printRow("Admin", cfg.Admin.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Printf("║  %-12s    : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
