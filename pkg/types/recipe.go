package types

import "time"

// Recipe is the canonical extraction result shared by the structured and
// AI import paths. It is a transient value object; persistence (ownership,
// timestamps, pin status) is the storage layer's concern.
type Recipe struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	PrepTime     *int          `json:"prepTime,omitempty"`
	CookTime     *int          `json:"cookTime,omitempty"`
	TotalTime    *int          `json:"totalTime,omitempty"`
	Servings     *int          `json:"servings,omitempty"`
	Ingredients  []Ingredient  `json:"ingredients"`
	Instructions []Instruction `json:"instructions"`
	Tags         []string      `json:"tags,omitempty"`
}

// Ingredient pairs a quantity token with the item description.
type Ingredient struct {
	Amount string `json:"amount"`
	Item   string `json:"item"`
}

// Instruction is a single ordered step. Step numbers are 1-indexed by
// position in the sequence.
type Instruction struct {
	Step int    `json:"step"`
	Text string `json:"text"`
}

// Valid reports whether the recipe satisfies the minimum import contract:
// a non-empty name and at least one ingredient.
func (r *Recipe) Valid() bool {
	return r != nil && r.Name != "" && len(r.Ingredients) > 0
}

// Macros are AI-estimated macronutrients per serving. Calories in kcal,
// everything else in grams.
type Macros struct {
	Calories int  `json:"calories"`
	Protein  int  `json:"protein"`
	Carbs    int  `json:"carbs"`
	Fat      int  `json:"fat"`
	Fiber    *int `json:"fiber,omitempty"`
}

// ImportMethod identifies which strategy produced an import result.
type ImportMethod string

const (
	MethodStructured ImportMethod = "structured"
	MethodAI         ImportMethod = "ai"
)

// RequestType classifies the source material of an AI extraction call.
type RequestType string

const (
	RequestURL    RequestType = "url"
	RequestPDF    RequestType = "pdf"
	RequestVideo  RequestType = "video"
	RequestMacros RequestType = "macros"
)

// UsageEvent is one row of the append-only AI usage log. Events are
// created once per AI call attempt (including failures) and never mutated.
type UsageEvent struct {
	ID          string
	UserID      string
	RequestType RequestType
	TokensUsed  *int
	Success     bool
	Timestamp   time.Time
}
