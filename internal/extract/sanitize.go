package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// TruncationMarker is appended when cleaned text exceeds the character
// budget. Truncation is lossy and best-effort; the recipe surviving it is
// not guaranteed.
const TruncationMarker = "... [content truncated]"

// noiseSelectors match elements whose class or id marks them as chrome
// rather than content. Substring matching is deliberate: sites use
// "ad-wrapper", "sidebar-left", "cookie-banner" and endless variants.
var noiseSelectors = []string{
	"script", "style", "noscript",
	"nav", "header", "footer", "aside",
	`[class*="ad"]`, `[class*="banner"]`, `[class*="cookie"]`, `[class*="popup"]`,
	`[class*="sidebar"]`, `[class*="social"]`, `[class*="share"]`, `[class*="comment"]`,
	`[class*="newsletter"]`, `[class*="subscribe"]`, `[class*="promo"]`,
	`[id*="ad"]`, `[id*="banner"]`, `[id*="cookie"]`, `[id*="popup"]`,
}

// mainSelectors are tried in priority order to isolate the recipe content
// before falling back to the whole body.
var mainSelectors = []string{
	`[class*="recipe"]`,
	`[class*="article"]`,
	`[class*="post-content"]`,
	`[class*="entry-content"]`,
	"article",
	"main",
}

// Sanitizer reduces noisy HTML to plain text sized for the AI model's
// context budget.
type Sanitizer struct {
	maxChars            int
	minMainContentChars int
}

// NewSanitizer constructs a sanitizer; zero values fall back to the
// 30000/500 character defaults.
func NewSanitizer(maxChars, minMainContentChars int) *Sanitizer {
	if maxChars <= 0 {
		maxChars = 30000
	}
	if minMainContentChars <= 0 {
		minMainContentChars = 500
	}
	return &Sanitizer{maxChars: maxChars, minMainContentChars: minMainContentChars}
}

// Clean strips non-content markup, isolates the main content area when one
// is recognisable, collapses whitespace, and truncates to the budget.
func (s *Sanitizer) Clean(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Unparseable input degrades to whitespace-collapsed raw text.
		return s.truncate(collapseWhitespace(html))
	}

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	var content string
	for _, sel := range mainSelectors {
		el := doc.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if text := el.Text(); len(strings.TrimSpace(text)) > s.minMainContentChars {
			content = text
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	return s.truncate(collapseWhitespace(content))
}

func (s *Sanitizer) truncate(content string) string {
	if len(content) <= s.maxChars {
		return content
	}
	// Recipe text carries multibyte runes (vulgar fractions, degree signs);
	// the cut must not split one and hand the model invalid UTF-8.
	cut := s.maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + TruncationMarker
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
