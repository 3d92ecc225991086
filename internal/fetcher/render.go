package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"recipebox/internal/config"
)

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// Composite prefers the renderer when one is configured and falls back to
// plain HTTP on renderer errors.
type Composite struct {
	defaultFetcher Fetcher
	renderer       Renderer
	logger         *slog.Logger
}

// NewComposite builds a composite fetcher from HTTP and optional renderer
// components.
func NewComposite(httpFetcher Fetcher, renderer Renderer, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{defaultFetcher: httpFetcher, renderer: renderer, logger: logger}
}

// Fetch delegates to the renderer when present, falling back to HTTP.
func (c *Composite) Fetch(ctx context.Context, rawURL string) (string, error) {
	if c.renderer != nil {
		html, err := c.renderer.Render(ctx, rawURL)
		if err == nil {
			return html, nil
		}
		c.logger.Warn("renderer failed, falling back to HTTP fetch", "url", rawURL, "error", err)
	}
	return c.defaultFetcher.Fetch(ctx, rawURL)
}

// ChromedpRenderer executes headless Chrome sessions using chromedp. It is
// an opt-in path for recipe sites that assemble the page client-side.
type ChromedpRenderer struct {
	opts      config.RenderingConfig
	userAgent string
	maxBytes  int64
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(cfg config.RenderingConfig, userAgent string, maxBodyBytes int64, logger *slog.Logger) *ChromedpRenderer {
	sessions := cfg.ConcurrentSessions
	if sessions <= 0 {
		sessions = 1
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 5 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:      cfg,
		userAgent: userAgent,
		maxBytes:  maxBodyBytes,
		semaphore: make(chan struct{}, sessions),
		logger:    logger,
	}
}

// Render navigates to the target URL and exports the final DOM outer HTML.
func (r *ChromedpRenderer) Render(parentCtx context.Context, rawURL string) (string, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return "", parentCtx.Err()
	}

	timeout := r.opts.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	}
	if ua := strings.TrimSpace(r.userAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()
	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	start := time.Now()
	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if sel := strings.TrimSpace(r.opts.WaitForSelector); sel != "" {
		actions = append(actions,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.Sleep(250*time.Millisecond),
		)
	} else {
		actions = append(actions, chromedp.Sleep(1500*time.Millisecond))
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if int64(len(html)) > r.maxBytes {
		html = html[:r.maxBytes]
	}

	r.logger.Debug("chromedp render complete",
		"url", rawURL,
		"latency_ms", time.Since(start).Milliseconds(),
		"html_bytes", len(html),
	)
	return html, nil
}
