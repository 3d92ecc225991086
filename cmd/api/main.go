package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"recipebox/internal/api"
	"recipebox/internal/config"
	"recipebox/internal/extract"
	"recipebox/internal/fetcher"
	"recipebox/internal/gemini"
	"recipebox/internal/importer"
	"recipebox/internal/robots"
	"recipebox/internal/storage"
	"recipebox/internal/usage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to importer configuration")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.Logging)
	logger.Info("starting api server", "addr", cfg.Server.Addr, "model", cfg.Gemini.Model)

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg.Fetch, robots.NewAgent(cfg.Robots, nil))
	if err != nil {
		log.Fatalf("failed to initialise fetcher: %v", err)
	}
	var pageFetcher fetcher.Fetcher = httpFetcher
	if cfg.Rendering.Enabled {
		renderer := fetcher.NewChromedpRenderer(cfg.Rendering, cfg.Fetch.UserAgent, cfg.Fetch.MaxBodyBytes, logger)
		pageFetcher = fetcher.NewComposite(httpFetcher, renderer, logger)
	}

	store, err := storage.NewStore(cfg.DB)
	if err != nil {
		log.Fatalf("failed to initialise store: %v", err)
	}
	defer store.Close()

	ai, err := gemini.NewClient(ctx, cfg.Gemini, logger)
	if err != nil {
		log.Fatalf("failed to initialise gemini client: %v", err)
	}
	if !ai.Configured() {
		logger.Warn("gemini not configured, only structured imports will work")
	}

	limiter := usage.NewLimiter(store, cfg.Limits, logger)
	sanitizer := extract.NewSanitizer(cfg.Sanitize.MaxChars, cfg.Sanitize.MinMainContentChars)
	imports := importer.New(pageFetcher, sanitizer, ai, limiter, cfg.Server.MaxPDFBytes, logger)
	server := api.NewServer(imports, store, limiter, cfg.Server.MaxPDFBytes, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("api server listening", "addr", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("API server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
