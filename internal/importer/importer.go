package importer

import (
	"bytes"
	"context"
	"log/slog"

	"recipebox/internal/extract"
	"recipebox/internal/gemini"
	"recipebox/internal/usage"
	"recipebox/pkg/types"
)

// PageFetcher retrieves a page body for a URL import.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Extractor is the AI extraction backend.
type Extractor interface {
	ExtractFromText(ctx context.Context, text string) (*gemini.Result, error)
	ExtractFromPDF(ctx context.Context, pdf []byte) (*gemini.Result, error)
	CalculateMacros(ctx context.Context, ingredients []types.Ingredient, servings *int) (*gemini.MacroResult, error)
}

// Limiter gates and records AI calls.
type Limiter interface {
	CheckLimits(ctx context.Context) (usage.Snapshot, error)
	Record(ctx context.Context, userID string, reqType types.RequestType, tokensUsed *int, success bool) error
}

// Result is one completed import: the recipe and how it was obtained.
type Result struct {
	Recipe     types.Recipe       `json:"recipe"`
	Method     types.ImportMethod `json:"method"`
	TokensUsed *int               `json:"tokens_used,omitempty"`
}

// MacroResult is one completed macro estimation.
type MacroResult struct {
	Macros     types.Macros `json:"macros"`
	TokensUsed *int         `json:"tokens_used,omitempty"`
}

// Importer runs the import pipeline: fetch, structured extraction, and the
// AI fallback behind the usage limiter.
type Importer struct {
	fetcher     PageFetcher
	sanitizer   *extract.Sanitizer
	ai          Extractor
	limiter     Limiter
	maxPDFBytes int64
	logger      *slog.Logger
}

// New wires the pipeline stages together.
func New(fetcher PageFetcher, sanitizer *extract.Sanitizer, ai Extractor, limiter Limiter, maxPDFBytes int64, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = extract.NewSanitizer(0, 0)
	}
	if maxPDFBytes <= 0 {
		maxPDFBytes = 10 * 1024 * 1024
	}
	return &Importer{
		fetcher:     fetcher,
		sanitizer:   sanitizer,
		ai:          ai,
		limiter:     limiter,
		maxPDFBytes: maxPDFBytes,
		logger:      logger,
	}
}

// ImportFromURL fetches the page and extracts a recipe, preferring free
// structured data. The AI fallback runs only when structured data is
// absent, and only after the limiter admits the call.
func (i *Importer) ImportFromURL(ctx context.Context, userID, rawURL string) (*Result, error) {
	html, err := i.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if recipe, ok := extract.StructuredData(html); ok {
		i.logger.Info("import resolved from structured data", "url", rawURL, "recipe", recipe.Name)
		return &Result{Recipe: *recipe, Method: types.MethodStructured}, nil
	}

	content := i.sanitizer.Clean(html)
	return i.aiExtract(ctx, userID, types.RequestURL, func(ctx context.Context) (*gemini.Result, error) {
		return i.ai.ExtractFromText(ctx, content)
	})
}

// ImportFromPDF extracts a recipe from PDF bytes. PDFs have no structured
// data path; every PDF import is an AI call.
func (i *Importer) ImportFromPDF(ctx context.Context, userID string, pdf []byte) (*Result, error) {
	if len(pdf) == 0 {
		return nil, types.NewImportError(types.KindInvalidInput, "empty PDF upload")
	}
	if int64(len(pdf)) > i.maxPDFBytes {
		return nil, types.NewImportError(types.KindInvalidInput, "PDF exceeds the %d byte limit", i.maxPDFBytes)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, types.NewImportError(types.KindInvalidInput, "file does not look like a PDF")
	}
	return i.aiExtract(ctx, userID, types.RequestPDF, func(ctx context.Context) (*gemini.Result, error) {
		return i.ai.ExtractFromPDF(ctx, pdf)
	})
}

// CalculateMacros estimates per-serving macros for a saved recipe. Macro
// calls share the import budget: the limiter gates them, successful calls
// record a usage event, and provider throttling records a failed one.
func (i *Importer) CalculateMacros(ctx context.Context, userID string, recipe types.Recipe) (*MacroResult, error) {
	if len(recipe.Ingredients) == 0 {
		return nil, types.NewImportError(types.KindInvalidInput, "recipe has no ingredients to analyse")
	}
	if _, err := i.limiter.CheckLimits(ctx); err != nil {
		return nil, err
	}

	res, err := i.ai.CalculateMacros(ctx, recipe.Ingredients, recipe.Servings)
	if err != nil {
		if types.IsRateLimited(err) {
			if recErr := i.limiter.Record(ctx, userID, types.RequestMacros, nil, false); recErr != nil {
				i.logger.Error("record failed usage event", "error", recErr)
			}
		}
		return nil, err
	}

	if err := i.limiter.Record(ctx, userID, types.RequestMacros, res.TokensUsed, true); err != nil {
		i.logger.Error("record usage event", "error", err)
	}
	i.logger.Info("macros estimated",
		"recipe", recipe.Name,
		"calories", res.Macros.Calories,
		"tokens", tokensOrZero(res.TokensUsed),
	)
	return &MacroResult{Macros: res.Macros, TokensUsed: res.TokensUsed}, nil
}

// aiExtract is the guarded AI call: limiter check strictly before the call,
// a success event after it. A provider-throttled failure still consumes an
// audit row (success=false) so the attempt is visible without burning budget.
func (i *Importer) aiExtract(ctx context.Context, userID string, reqType types.RequestType, call func(context.Context) (*gemini.Result, error)) (*Result, error) {
	if _, err := i.limiter.CheckLimits(ctx); err != nil {
		return nil, err
	}

	res, err := call(ctx)
	if err != nil {
		if types.IsRateLimited(err) {
			if recErr := i.limiter.Record(ctx, userID, reqType, nil, false); recErr != nil {
				i.logger.Error("record failed usage event", "error", recErr)
			}
		}
		return nil, err
	}

	if err := i.limiter.Record(ctx, userID, reqType, res.TokensUsed, true); err != nil {
		i.logger.Error("record usage event", "error", err)
	}
	i.logger.Info("import resolved via AI extraction",
		"request_type", string(reqType),
		"recipe", res.Recipe.Name,
		"tokens", tokensOrZero(res.TokensUsed),
	)
	return &Result{Recipe: res.Recipe, Method: types.MethodAI, TokensUsed: res.TokensUsed}, nil
}

func tokensOrZero(tokens *int) int {
	if tokens == nil {
		return 0
	}
	return *tokens
}
