package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"agnusai/internal/commenter"
	"agnusai/internal/config"
	"agnusai/internal/llm"
	"agnusai/internal/orchestrator"
	"agnusai/internal/runtime"
	"agnusai/internal/storage"
	"agnusai/internal/vcs"
	"agnusai/internal/vcs/github"
	"agnusai/internal/vcs/gitlab"
	"agnusai/internal/webhook"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	model, err := llm.New(cfg)
	if err != nil {
		slog.Error("create llm client failed", "error", err)
		os.Exit(1)
	}
	if err := model.Ping(context.Background()); err != nil {
		slog.Error("llm health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("llm client ready", "backend", model.Name(), "model", cfg.LLM.Model)

	var store storage.Repository
	if cfg.Storage.Driver == "sqlite" {
		store, err = storage.NewSQLiteRepository(cfg.Storage.DSN)
		if err != nil {
			slog.Error("init storage failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	} else if cfg.Storage.Driver != "" {
		slog.Warn("unknown storage driver, history disabled", "driver", cfg.Storage.Driver)
	}

	// One orchestrator per configured platform; the shared runtime keeps the
	// idempotency map and rate budget process-wide.
	rt := runtime.New(cfg.Review.RequestsPerHour)
	orchestrators := make(map[string]*orchestrator.Orchestrator)

	if cfg.GitHub.Token != "" {
		adapter, err := github.New(cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			slog.Error("init github adapter failed", "error", err)
			os.Exit(1)
		}
		orchestrators["github"] = buildOrchestrator(cfg, adapter, model, rt, store)
		slog.Info("github adapter ready", "base_url", cfg.GitHub.BaseURL)
	}
	if cfg.GitLab.Token != "" {
		adapter, err := gitlab.New(cfg.GitLab.Token, cfg.GitLab.BaseURL)
		if err != nil {
			slog.Error("init gitlab adapter failed", "error", err)
			os.Exit(1)
		}
		orchestrators["gitlab"] = buildOrchestrator(cfg, adapter, model, rt, store)
		slog.Info("gitlab adapter ready", "base_url", cfg.GitLab.BaseURL)
	}

	pool := webhook.NewWorkerPool(cfg.Webhook.Workers, cfg.Webhook.QueueSize)
	pool.Start()

	handler := webhook.NewHandler(cfg, pool, func(ctx context.Context, ev *webhook.Event) error {
		o, ok := orchestrators[ev.Platform]
		if !ok {
			return fmt.Errorf("no adapter configured for platform %q", ev.Platform)
		}
		_, err := o.IncrementalReview(ctx, ev.Repo, ev.Number, orchestrator.IncrementalOptions{})
		return err
	})

	mux := http.NewServeMux()
	mux.Handle("/webhook", handler)

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := model.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			http.Error(w, "LLM unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	// Catch requests to the root so a misconfigured webhook URL is visible
	// in the logs instead of silently 404ing.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			slog.Warn("received request at root path",
				"method", r.Method,
				"msg", "configure the webhook URL to path '/webhook'",
			)
		}
		http.NotFound(w, r)
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown forced", "error", err)
	}

	// Drain queued reviews before exiting; a review mid-post left unfinished
	// would lose its checkpoint. Debounce timers are cancelled first so none
	// fires into the stopping pool.
	handler.Shutdown()
	slog.Info("draining review queue")
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("reviews completed")
	case <-time.After(30 * time.Second):
		slog.Warn("drain timeout, exiting")
	}

	slog.Info("server stopped")
}

func buildOrchestrator(cfg *config.Config, adapter vcs.Adapter, model llm.Client,
	rt *runtime.Runtime, store storage.Repository) *orchestrator.Orchestrator {
	poster := commenter.NewManager(adapter, vcs.Probe(adapter), rt)
	return orchestrator.New(cfg, adapter, model, poster, nil, nil, store)
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			// Use lumberjack for log rotation
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
