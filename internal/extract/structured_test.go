package extract

import (
	"fmt"
	"strings"
	"testing"

	"recipebox/pkg/types"
)

const cookieRecipeJSONLD = `{
	"@context": "https://schema.org",
	"@type": "Recipe",
	"name": "Chocolate Chip Cookies",
	"description": "Classic cookies.",
	"prepTime": "PT15M",
	"cookTime": "PT12M",
	"totalTime": "PT1H30M",
	"recipeYield": "24 cookies",
	"recipeIngredient": [
		"2 1/4 cups all-purpose flour",
		"1 cup butter",
		"salt to taste"
	],
	"recipeInstructions": [
		{"@type": "HowToStep", "text": "Preheat oven to 375F."},
		{"@type": "HowToStep", "text": "Mix dry ingredients."},
		"Bake until golden."
	],
	"recipeCategory": "Dessert",
	"recipeCuisine": ["American"],
	"keywords": "cookies, Dessert, baking"
}`

func wrapScript(blocks ...string) string {
	html := "<html><head>"
	for _, b := range blocks {
		html += `<script type="application/ld+json">` + b + `</script>`
	}
	return html + "</head><body><p>page</p></body></html>"
}

func TestStructuredDataExtractsRecipe(t *testing.T) {
	recipe, ok := StructuredData(wrapScript(cookieRecipeJSONLD))
	if !ok {
		t.Fatal("expected recipe")
	}
	if recipe.Name != "Chocolate Chip Cookies" {
		t.Fatalf("name: %q", recipe.Name)
	}
	if recipe.PrepTime == nil || *recipe.PrepTime != 15 {
		t.Fatalf("prepTime: %v", recipe.PrepTime)
	}
	if recipe.TotalTime == nil || *recipe.TotalTime != 90 {
		t.Fatalf("totalTime: %v", recipe.TotalTime)
	}
	if recipe.Servings == nil || *recipe.Servings != 24 {
		t.Fatalf("servings: %v", recipe.Servings)
	}

	wantIngredients := []types.Ingredient{
		{Amount: "2 1/4 cups", Item: "all-purpose flour"},
		{Amount: "1 cup", Item: "butter"},
		{Amount: "1", Item: "salt to taste"},
	}
	if len(recipe.Ingredients) != len(wantIngredients) {
		t.Fatalf("ingredients: %+v", recipe.Ingredients)
	}
	for i, want := range wantIngredients {
		if recipe.Ingredients[i] != want {
			t.Errorf("ingredient %d: got %+v, want %+v", i, recipe.Ingredients[i], want)
		}
	}

	wantSteps := []string{"Preheat oven to 375F.", "Mix dry ingredients.", "Bake until golden."}
	if len(recipe.Instructions) != len(wantSteps) {
		t.Fatalf("instructions: %+v", recipe.Instructions)
	}
	for i, want := range wantSteps {
		got := recipe.Instructions[i]
		if got.Step != i+1 || got.Text != want {
			t.Errorf("step %d: got %+v", i+1, got)
		}
	}

	// Tags lowercased and deduplicated ("Dessert" appears in both category
	// and keywords).
	wantTags := []string{"dessert", "american", "cookies", "baking"}
	if len(recipe.Tags) != len(wantTags) {
		t.Fatalf("tags: %v", recipe.Tags)
	}
	for i, want := range wantTags {
		if recipe.Tags[i] != want {
			t.Errorf("tag %d: got %q, want %q", i, recipe.Tags[i], want)
		}
	}
}

func TestStructuredDataAbsentWhenNoRecipe(t *testing.T) {
	html := wrapScript(`{"@type": "NewsArticle", "headline": "Not food"}`)
	if _, ok := StructuredData(html); ok {
		t.Fatal("expected absent")
	}
	if _, ok := StructuredData("<html><body>no scripts at all</body></html>"); ok {
		t.Fatal("expected absent on script-free page")
	}
}

func TestStructuredDataSkipsMalformedBlocks(t *testing.T) {
	// A broken block before a valid one must not abort extraction.
	html := wrapScript(`{not json at all`, `[{"@type": "WebSite"}]`, cookieRecipeJSONLD)
	recipe, ok := StructuredData(html)
	if !ok {
		t.Fatal("expected recipe despite malformed sibling blocks")
	}
	if recipe.Name != "Chocolate Chip Cookies" {
		t.Fatalf("name: %q", recipe.Name)
	}
}

func TestStructuredDataHandlesArraysAndTypeLists(t *testing.T) {
	block := `[{"@type": "BreadcrumbList"}, {
		"@type": ["Recipe", "NewsArticle"],
		"name": "Minimal Soup",
		"recipeIngredient": ["1 onion"],
		"recipeInstructions": "1. Chop. 2. Simmer. 3. Serve."
	}]`
	recipe, ok := StructuredData(wrapScript(block))
	if !ok {
		t.Fatal("expected recipe")
	}
	if recipe.Name != "Minimal Soup" {
		t.Fatalf("name: %q", recipe.Name)
	}
	wantSteps := []string{"Chop.", "Simmer.", "Serve."}
	if len(recipe.Instructions) != 3 {
		t.Fatalf("instructions: %+v", recipe.Instructions)
	}
	for i, want := range wantSteps {
		got := recipe.Instructions[i]
		if got.Step != i+1 || got.Text != want {
			t.Errorf("step %d: got %+v", i+1, got)
		}
	}
}

func TestStructuredDataRejectsInvalidCandidates(t *testing.T) {
	// A Recipe-typed block without name or ingredients falls through to
	// absent so the AI path can try instead.
	for _, block := range []string{
		`{"@type": "Recipe", "recipeIngredient": ["1 egg"]}`,
		`{"@type": "Recipe", "name": "Empty Plate"}`,
	} {
		if _, ok := StructuredData(wrapScript(block)); ok {
			t.Errorf("block %s: expected absent", block)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"PT15M", 15},
		{"PT2H", 120},
		{"PT1H30M", 90},
		{"PT0M", 0},
	}
	for _, tc := range cases {
		got := parseDurationField(tc.in)
		if got == nil || *got != tc.want {
			t.Errorf("parseDurationField(%q) = %v, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "45 minutes", "about an hour"} {
		if got := parseDurationField(bad); got != nil {
			t.Errorf("parseDurationField(%q) = %d, want absent", bad, *got)
		}
	}
}

func TestSplitIngredientFractions(t *testing.T) {
	cases := []struct {
		in     string
		amount string
		item   string
	}{
		{"2 1/4 cups all-purpose flour", "2 1/4 cups", "all-purpose flour"},
		{"½ cup sugar", "½ cup", "sugar"},
		{"3 eggs", "3", "eggs"},
		{"salt to taste", "1", "salt to taste"},
		{"fresh basil leaves", "1", "fresh basil leaves"},
	}
	for _, tc := range cases {
		got := SplitIngredient(tc.in)
		if got.Amount != tc.amount || got.Item != tc.item {
			t.Errorf("SplitIngredient(%q) = %+v, want {%s %s}", tc.in, got, tc.amount, tc.item)
		}
	}
}

func TestInstructionOrderPreserved(t *testing.T) {
	entries := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, fmt.Sprintf(`{"text": "step %c"}`, 'A'+i))
	}
	block := fmt.Sprintf(`{
		"@type": "Recipe",
		"name": "Ordered",
		"recipeIngredient": ["1 thing"],
		"recipeInstructions": [%s]
	}`, strings.Join(entries, ","))
	recipe, ok := StructuredData(wrapScript(block))
	if !ok {
		t.Fatal("expected recipe")
	}
	for i, inst := range recipe.Instructions {
		want := fmt.Sprintf("step %c", 'A'+i)
		if inst.Step != i+1 || inst.Text != want {
			t.Fatalf("position %d: got %+v, want step=%d text=%q", i, inst, i+1, want)
		}
	}
}
