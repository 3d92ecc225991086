package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"recipebox/pkg/types"
)

// Most cooking sites embed schema.org Recipe metadata as JSON-LD for
// search engines. Finding it means the import is free: no AI call, no
// quota. Absence is the expected common case, not an error.

var (
	// Splits "2 1/4 cups all-purpose flour" into a quantity+unit token and
	// the item description. Vulgar fraction characters appear literally in
	// real-world ingredient strings.
	ingredientRe = regexp.MustCompile(`^([0-9\s/\-¼½¾⅓⅔⅛⅜⅝⅞.]+\s*[a-zA-Z]*)\s+(.+)$`)

	// ISO-8601-style durations as used by schema.org: PT1H30M, PT45M, PT2H.
	durationRe = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?`)

	stepMarkerRe = regexp.MustCompile(`\d+\.\s*`)
	yieldRe      = regexp.MustCompile(`\d+`)
)

// StructuredData scans HTML for an embedded JSON-LD Recipe object and maps
// it into the canonical shape. It returns (nil, false) when no usable
// recipe is present; malformed blocks are skipped, never surfaced.
func StructuredData(html string) (*types.Recipe, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}

	var found *types.Recipe
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			// Malformed structured data must not abort the import.
			return true
		}
		if recipe := recipeFromJSONLD(payload); recipe != nil {
			found = recipe
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// recipeFromJSONLD walks a decoded JSON-LD payload (object or array of
// objects) looking for a Recipe-typed entry.
func recipeFromJSONLD(payload any) *types.Recipe {
	candidates, ok := payload.([]any)
	if !ok {
		candidates = []any{payload}
	}
	for _, candidate := range candidates {
		obj, ok := candidate.(map[string]any)
		if !ok {
			continue
		}
		if !declaresRecipeType(obj["@type"]) {
			continue
		}
		if recipe := mapRecipe(obj); recipe.Valid() {
			return recipe
		}
	}
	return nil
}

// declaresRecipeType accepts both `"@type": "Recipe"` and the list form
// `"@type": ["Recipe", "NewsArticle"]`.
func declaresRecipeType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Recipe"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == "Recipe" {
				return true
			}
		}
	}
	return false
}

func mapRecipe(obj map[string]any) *types.Recipe {
	recipe := &types.Recipe{
		Name:        stringField(obj["name"]),
		Description: stringField(obj["description"]),
	}

	for _, raw := range stringList(obj["recipeIngredient"]) {
		recipe.Ingredients = append(recipe.Ingredients, SplitIngredient(raw))
	}
	recipe.Instructions = mapInstructions(obj["recipeInstructions"])

	recipe.PrepTime = parseDurationField(obj["prepTime"])
	recipe.CookTime = parseDurationField(obj["cookTime"])
	recipe.TotalTime = parseDurationField(obj["totalTime"])
	recipe.Servings = parseYield(obj["recipeYield"])
	recipe.Tags = collectTags(obj)

	return recipe
}

// SplitIngredient isolates a leading quantity+unit token from the item
// description. Strings without a recognisable quantity become the item
// with amount "1".
func SplitIngredient(raw string) types.Ingredient {
	raw = strings.TrimSpace(raw)
	if m := ingredientRe.FindStringSubmatch(raw); m != nil {
		return types.Ingredient{Amount: strings.TrimSpace(m[1]), Item: strings.TrimSpace(m[2])}
	}
	return types.Ingredient{Amount: "1", Item: raw}
}

// mapInstructions handles the two shapes seen in the wild: an array of
// strings or HowToStep objects, or a single numbered string. Steps are
// 1-indexed by position regardless of any numbering in the source.
func mapInstructions(v any) []types.Instruction {
	switch raw := v.(type) {
	case []any:
		steps := make([]types.Instruction, 0, len(raw))
		for _, entry := range raw {
			var text string
			switch e := entry.(type) {
			case string:
				text = e
			case map[string]any:
				text = stringField(e["text"])
				if text == "" {
					text = stringField(e["description"])
				}
			}
			steps = append(steps, types.Instruction{Step: len(steps) + 1, Text: strings.TrimSpace(text)})
		}
		return steps
	case string:
		parts := stepMarkerRe.Split(raw, -1)
		steps := make([]types.Instruction, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			steps = append(steps, types.Instruction{Step: len(steps) + 1, Text: part})
		}
		return steps
	}
	return nil
}

// parseDurationField converts "PT1H30M" to total minutes. Unparseable
// values yield nil, never an error.
func parseDurationField(v any) *int {
	raw := stringField(v)
	if raw == "" {
		return nil
	}
	m := durationRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	hours, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	total := hours*60 + minutes
	return &total
}

func parseYield(v any) *int {
	var raw string
	switch y := v.(type) {
	case nil:
		return nil
	case string:
		raw = y
	case float64:
		n := int(y)
		if n > 0 {
			return &n
		}
		return nil
	case []any:
		for _, item := range y {
			if s := stringField(item); s != "" {
				raw = s
				break
			}
		}
	}
	m := yieldRe.FindString(raw)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// collectTags aggregates category, cuisine, and keyword fields into a
// lowercase deduplicated set. Keywords may be a comma-separated string.
func collectTags(obj map[string]any) []string {
	var tags []string
	tags = append(tags, stringList(obj["recipeCategory"])...)
	tags = append(tags, stringList(obj["recipeCuisine"])...)
	if kw, ok := obj["keywords"].(string); ok {
		tags = append(tags, strings.Split(kw, ",")...)
	} else {
		tags = append(tags, stringList(obj["keywords"])...)
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringField(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	switch raw := v.(type) {
	case string:
		if raw == "" {
			return nil
		}
		return []string{raw}
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
