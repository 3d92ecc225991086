package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"recipebox/internal/config"
	"recipebox/pkg/types"
)

const extractionPrompt = `You are a recipe extraction assistant. Analyze the provided content and extract recipe information.

Return ONLY valid JSON in this exact format (no markdown, no code blocks, just JSON):
{
  "name": "Recipe name",
  "description": "Brief description of the dish",
  "prepTime": 15,
  "cookTime": 30,
  "totalTime": 45,
  "servings": 4,
  "ingredients": [
    {"item": "all-purpose flour", "amount": "2 cups"},
    {"item": "sugar", "amount": "1 cup"}
  ],
  "instructions": [
    {"step": 1, "text": "Preheat oven to 350F"},
    {"step": 2, "text": "Mix dry ingredients together"}
  ],
  "tags": ["dessert", "baking", "easy"]
}

Rules:
- Times are in minutes (integers)
- Ingredient amounts should be specific with units
- Instructions should be clear, sequential steps
- Tags should be lowercase, single words or hyphenated phrases
- If a field is not available, omit it (except name, ingredients, instructions which are required)
- Extract exactly what's in the recipe, don't add or infer information

Analyze this content and extract the recipe:
`

const macroPrompt = `You are a nutrition expert. Given the recipe ingredients below, estimate the macronutrients PER SERVING.

Return ONLY valid JSON (no markdown, no code blocks, just raw JSON):
{
  "calories": 450,
  "protein": 25,
  "carbs": 35,
  "fat": 18,
  "fiber": 5
}

Rules:
- All values are PER SERVING (divide total by number of servings)
- Calories in kcal, all others in grams
- Base estimates on USDA nutritional data
- Be realistic and round to whole numbers
- Include fiber if the recipe has significant fiber sources
- If servings count is unknown, assume 4 servings

Recipe:
`

// Result carries an extracted recipe plus the provider's token usage count
// when the response exposed one.
type Result struct {
	Recipe     types.Recipe
	TokensUsed *int
}

// MacroResult carries a macro estimate plus the provider's token usage.
type MacroResult struct {
	Macros     types.Macros
	TokensUsed *int
}

// Client wraps the Gemini API for recipe extraction from cleaned page text
// or raw PDF bytes.
type Client struct {
	api     *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient builds a Gemini client. A missing credential does not fail
// construction; it is detected per call so the rest of the system (and the
// structured import path) keeps working without a key.
func NewClient(ctx context.Context, cfg config.GeminiConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
	if cfg.APIKey == "" {
		return c, nil
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.api = api
	return c, nil
}

// Configured reports whether both credential and model are present.
func (c *Client) Configured() bool {
	return c != nil && c.api != nil && c.model != ""
}

// ExtractFromText sends cleaned page text to the model and parses the
// reply into the canonical recipe shape.
func (c *Client) ExtractFromText(ctx context.Context, text string) (*Result, error) {
	if !c.Configured() {
		return nil, types.NewImportError(types.KindServiceUnavailable, "Gemini API key not configured")
	}
	contents := genai.Text(extractionPrompt + "\n\nRecipe page content:\n" + text)
	return c.generate(ctx, contents)
}

// ExtractFromPDF sends the PDF bytes inline (base64 with a PDF MIME
// marker, handled by the SDK) alongside the extraction prompt.
func (c *Client) ExtractFromPDF(ctx context.Context, pdf []byte) (*Result, error) {
	if !c.Configured() {
		return nil, types.NewImportError(types.KindServiceUnavailable, "Gemini API key not configured")
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(pdf, "application/pdf"),
		genai.NewPartFromText(extractionPrompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return c.generate(ctx, contents)
}

// CalculateMacros estimates per-serving macros for a recipe's ingredient
// list. It shares the extraction budget; callers gate it the same way.
func (c *Client) CalculateMacros(ctx context.Context, ingredients []types.Ingredient, servings *int) (*MacroResult, error) {
	if !c.Configured() {
		return nil, types.NewImportError(types.KindServiceUnavailable, "Gemini API key not configured")
	}

	var sb strings.Builder
	sb.WriteString(macroPrompt)
	if servings != nil && *servings > 0 {
		fmt.Fprintf(&sb, "Servings: %d\n", *servings)
	}
	sb.WriteString("Ingredients:\n")
	for _, ing := range ingredients {
		fmt.Fprintf(&sb, "- %s %s\n", ing.Amount, ing.Item)
	}

	text, tokens, err := c.call(ctx, genai.Text(sb.String()))
	if err != nil {
		return nil, err
	}
	macros, err := parseMacroResponse(text)
	if err != nil {
		return nil, err
	}
	return &MacroResult{Macros: *macros, TokensUsed: tokens}, nil
}

func (c *Client) generate(parentCtx context.Context, contents []*genai.Content) (*Result, error) {
	text, tokens, err := c.call(parentCtx, contents)
	if err != nil {
		return nil, err
	}
	recipe, err := parseRecipeResponse(text)
	if err != nil {
		return nil, err
	}
	return &Result{Recipe: *recipe, TokensUsed: tokens}, nil
}

// call runs one GenerateContent request under the client timeout and
// returns the reply text with its token count, if the response exposed one.
func (c *Client) call(parentCtx context.Context, contents []*genai.Content) (string, *int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", nil, classifyProviderErr(err)
	}
	c.logger.Debug("gemini call complete",
		"model", c.model,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	var tokens *int
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		n := int(resp.UsageMetadata.TotalTokenCount)
		tokens = &n
	}
	return resp.Text(), tokens, nil
}

// parseRecipeResponse strips a possible markdown code fence, parses the
// JSON, and validates the required fields.
func parseRecipeResponse(text string) (*types.Recipe, error) {
	cleaned := stripCodeFence(text)

	var recipe types.Recipe
	if err := json.Unmarshal([]byte(cleaned), &recipe); err != nil {
		return nil, types.WrapImportError(types.KindMalformedExtraction, err, "failed to parse recipe data from AI response")
	}
	if recipe.Name == "" || len(recipe.Ingredients) == 0 || len(recipe.Instructions) == 0 {
		return nil, types.NewImportError(types.KindMalformedExtraction, "extracted recipe is missing required fields")
	}
	return &recipe, nil
}

// parseMacroResponse parses the macro JSON, tolerating fractional values
// by rounding them. Calories and protein are the required fields.
func parseMacroResponse(text string) (*types.Macros, error) {
	cleaned := stripCodeFence(text)

	var raw struct {
		Calories *float64 `json:"calories"`
		Protein  *float64 `json:"protein"`
		Carbs    float64  `json:"carbs"`
		Fat      float64  `json:"fat"`
		Fiber    *float64 `json:"fiber"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, types.WrapImportError(types.KindMalformedExtraction, err, "failed to parse macro data from AI response")
	}
	if raw.Calories == nil || raw.Protein == nil {
		return nil, types.NewImportError(types.KindMalformedExtraction, "macro estimate is missing required fields")
	}

	macros := &types.Macros{
		Calories: int(math.Round(*raw.Calories)),
		Protein:  int(math.Round(*raw.Protein)),
		Carbs:    int(math.Round(raw.Carbs)),
		Fat:      int(math.Round(raw.Fat)),
	}
	if raw.Fiber != nil {
		fiber := int(math.Round(*raw.Fiber))
		macros.Fiber = &fiber
	}
	return macros, nil
}

func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// classifyProviderErr maps upstream failures onto the import error
// taxonomy: credential-shaped errors are operator-actionable, quota errors
// carry the provider's own throttling, and expiry of our deadline counts
// as a timeout.
func classifyProviderErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.WrapImportError(types.KindTimeout, err, "AI extraction timed out")
	}

	msg := err.Error()
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return types.WrapImportError(types.KindRateLimited, err, "Gemini API quota exceeded, please try again shortly")
		case apiErr.Code == 401 || apiErr.Code == 403:
			return types.WrapImportError(types.KindServiceUnavailable, err, "invalid Gemini API key")
		}
		msg = apiErr.Message
	}

	switch {
	case strings.Contains(msg, "API key") || strings.Contains(msg, "API_KEY"):
		return types.WrapImportError(types.KindServiceUnavailable, err, "invalid Gemini API key")
	case strings.Contains(msg, "quota") || strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return types.WrapImportError(types.KindRateLimited, err, "Gemini API quota exceeded, please try again shortly")
	default:
		return types.WrapImportError(types.KindExtractionFailed, err, "recipe extraction failed")
	}
}
