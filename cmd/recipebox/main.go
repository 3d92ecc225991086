// Command recipebox runs a single import from the terminal: give it a URL
// or a PDF path and it prints the extracted recipe as JSON. Useful for
// trying a page without standing up the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"recipebox/internal/config"
	"recipebox/internal/extract"
	"recipebox/internal/fetcher"
	"recipebox/internal/gemini"
	"recipebox/internal/importer"
	"recipebox/internal/robots"
	"recipebox/internal/usage"
)

func main() {
	cfgPath := flag.String("config", "", "Optional path to importer configuration")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: recipebox [-config path] <url | recipe.pdf>")
		os.Exit(2)
	}
	target := flag.Arg(0)

	cfg := config.DefaultFromEnv()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg.Fetch, robots.NewAgent(cfg.Robots, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise fetcher: %v\n", err)
		os.Exit(1)
	}
	ai, err := gemini.NewClient(ctx, cfg.Gemini, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise gemini client: %v\n", err)
		os.Exit(1)
	}

	// One process, one import: an in-memory event log is enough.
	limiter := usage.NewLimiter(usage.NewMemoryStore(), cfg.Limits, logger)
	sanitizer := extract.NewSanitizer(cfg.Sanitize.MaxChars, cfg.Sanitize.MinMainContentChars)
	imports := importer.New(httpFetcher, sanitizer, ai, limiter, cfg.Server.MaxPDFBytes, logger)

	var result *importer.Result
	if strings.HasSuffix(strings.ToLower(target), ".pdf") {
		pdf, err := os.ReadFile(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read pdf: %v\n", err)
			os.Exit(1)
		}
		result, err = imports.ImportFromPDF(ctx, "cli", pdf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		result, err = imports.ImportFromURL(ctx, "cli", target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
}
