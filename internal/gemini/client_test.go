package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"recipebox/internal/config"
	"recipebox/pkg/types"
)

const validReply = `{
	"name": "Tomato Soup",
	"description": "Simple soup.",
	"prepTime": 10,
	"cookTime": 20,
	"servings": 4,
	"ingredients": [{"amount": "6", "item": "tomatoes"}],
	"instructions": [{"step": 1, "text": "Simmer everything."}],
	"tags": ["soup"]
}`

func TestUnconfiguredClientFailsBeforeCalling(t *testing.T) {
	c, err := NewClient(context.Background(), config.GeminiConfig{Model: "gemini-test"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Configured() {
		t.Fatal("client without key should not report configured")
	}
	if _, err := c.ExtractFromText(context.Background(), "content"); types.KindOf(err) != types.KindServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %v", err)
	}
	if _, err := c.ExtractFromPDF(context.Background(), []byte("%PDF-1.4")); types.KindOf(err) != types.KindServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %v", err)
	}
	ingredients := []types.Ingredient{{Amount: "6", Item: "tomatoes"}}
	if _, err := c.CalculateMacros(context.Background(), ingredients, nil); types.KindOf(err) != types.KindServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %v", err)
	}
}

func TestParseRecipeResponse(t *testing.T) {
	recipe, err := parseRecipeResponse(validReply)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if recipe.Name != "Tomato Soup" || len(recipe.Ingredients) != 1 || len(recipe.Instructions) != 1 {
		t.Fatalf("unexpected recipe: %+v", recipe)
	}
	if recipe.PrepTime == nil || *recipe.PrepTime != 10 {
		t.Fatalf("prepTime: %v", recipe.PrepTime)
	}
}

func TestParseRecipeResponseStripsCodeFences(t *testing.T) {
	for _, wrapped := range []string{
		"```json\n" + validReply + "\n```",
		"```\n" + validReply + "\n```",
		"  " + validReply + "  ",
	} {
		recipe, err := parseRecipeResponse(wrapped)
		if err != nil {
			t.Fatalf("parse fenced reply: %v", err)
		}
		if recipe.Name != "Tomato Soup" {
			t.Fatalf("name: %q", recipe.Name)
		}
	}
}

func TestParseRecipeResponseRejectsBadReplies(t *testing.T) {
	cases := []string{
		"Sorry, I could not find a recipe on that page.",
		`{"name": "No Ingredients", "instructions": [{"step":1,"text":"x"}]}`,
		`{"ingredients": [{"amount":"1","item":"x"}], "instructions": [{"step":1,"text":"x"}]}`,
		`{"name": "No Steps", "ingredients": [{"amount":"1","item":"x"}]}`,
	}
	for _, reply := range cases {
		if _, err := parseRecipeResponse(reply); types.KindOf(err) != types.KindMalformedExtraction {
			t.Errorf("reply %q: expected malformed_extraction, got %v", reply, err)
		}
	}
}

func TestParseMacroResponse(t *testing.T) {
	macros, err := parseMacroResponse("```json\n" + `{"calories": 450.4, "protein": 24.6, "carbs": 35, "fat": 18, "fiber": 5}` + "\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if macros.Calories != 450 || macros.Protein != 25 || macros.Carbs != 35 || macros.Fat != 18 {
		t.Fatalf("unexpected macros: %+v", macros)
	}
	if macros.Fiber == nil || *macros.Fiber != 5 {
		t.Fatalf("fiber: %v", macros.Fiber)
	}

	macros, err = parseMacroResponse(`{"calories": 300, "protein": 10}`)
	if err != nil {
		t.Fatalf("parse without fiber: %v", err)
	}
	if macros.Fiber != nil {
		t.Fatalf("fiber should be absent: %v", *macros.Fiber)
	}
}

func TestParseMacroResponseRejectsBadReplies(t *testing.T) {
	cases := []string{
		"I cannot estimate macros for this.",
		`{"protein": 25, "carbs": 35}`,
		`{"calories": 450}`,
	}
	for _, reply := range cases {
		if _, err := parseMacroResponse(reply); types.KindOf(err) != types.KindMalformedExtraction {
			t.Errorf("reply %q: expected malformed_extraction, got %v", reply, err)
		}
	}
}

func TestClassifyProviderErr(t *testing.T) {
	cases := []struct {
		err  error
		want types.ErrorKind
	}{
		{context.DeadlineExceeded, types.KindTimeout},
		{genai.APIError{Code: 429, Message: "rate limited"}, types.KindRateLimited},
		{genai.APIError{Code: 403, Message: "forbidden"}, types.KindServiceUnavailable},
		{errors.New("API key not valid"), types.KindServiceUnavailable},
		{errors.New("quota exceeded for model"), types.KindRateLimited},
		{errors.New("RESOURCE_EXHAUSTED: slow down"), types.KindRateLimited},
		{errors.New("connection reset by peer"), types.KindExtractionFailed},
	}
	for _, tc := range cases {
		got := classifyProviderErr(tc.err)
		if types.KindOf(got) != tc.want {
			t.Errorf("classify(%v) = %v, want %s", tc.err, got, tc.want)
		}
	}
}
