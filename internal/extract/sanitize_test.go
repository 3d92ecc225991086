package extract

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCleanStripsNoiseElements(t *testing.T) {
	html := `<html><body>
		<nav>Home | Recipes | About</nav>
		<header>Site Header</header>
		<div class="ad-wrapper">Buy things</div>
		<div class="cookie-banner">We use cookies</div>
		<div id="popup-overlay">Subscribe now!</div>
		<script>trackUser()</script>
		<p>Mix the flour and water.</p>
		<footer>Copyright</footer>
	</body></html>`

	got := NewSanitizer(0, 0).Clean(html)
	if !strings.Contains(got, "Mix the flour and water.") {
		t.Fatalf("content lost: %q", got)
	}
	for _, noise := range []string{"Buy things", "We use cookies", "Subscribe now", "trackUser", "Site Header", "Copyright", "Home |"} {
		if strings.Contains(got, noise) {
			t.Errorf("noise survived: %q in %q", noise, got)
		}
	}
}

func TestCleanPrefersMainContent(t *testing.T) {
	filler := strings.Repeat("step by step instructions for the dish ", 20)
	html := `<html><body>
		<div>unrelated chatter outside the recipe area</div>
		<div class="recipe-card">` + filler + `</div>
	</body></html>`

	got := NewSanitizer(0, 0).Clean(html)
	if !strings.Contains(got, "step by step instructions") {
		t.Fatalf("main content missing: %q", got)
	}
	if strings.Contains(got, "unrelated chatter") {
		t.Fatalf("fallback body text leaked despite main content match: %q", got)
	}
}

func TestCleanFallsBackToBodyWhenMainTooShort(t *testing.T) {
	html := `<html><body>
		<div class="recipe-note">tiny</div>
		<p>The actual content lives outside any recognised container.</p>
	</body></html>`

	got := NewSanitizer(0, 0).Clean(html)
	if !strings.Contains(got, "actual content lives outside") {
		t.Fatalf("body fallback missing: %q", got)
	}
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	html := "<html><body><p>one\n\n\ttwo   three</p></body></html>"
	got := NewSanitizer(0, 0).Clean(html)
	if got != "one two three" {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}

func TestCleanTruncatesToBudget(t *testing.T) {
	const maxChars = 100
	html := "<html><body><p>" + strings.Repeat("x", 5000) + "</p></body></html>"

	got := NewSanitizer(maxChars, 0).Clean(html)
	if len(got) != maxChars+len(TruncationMarker) {
		t.Fatalf("length = %d, want %d", len(got), maxChars+len(TruncationMarker))
	}
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Fatalf("missing truncation marker: %q", got[len(got)-40:])
	}
}

func TestCleanTruncatesOnRuneBoundary(t *testing.T) {
	// "½ cup " is 7 bytes per repeat; some budgets land inside the
	// two-byte fraction.
	html := "<html><body><p>" + strings.Repeat("½ cup ", 200) + "</p></body></html>"

	for maxChars := 95; maxChars <= 105; maxChars++ {
		got := NewSanitizer(maxChars, 0).Clean(html)
		if !utf8.ValidString(got) {
			t.Fatalf("maxChars=%d: invalid UTF-8 in %q", maxChars, got)
		}
		if !strings.HasSuffix(got, TruncationMarker) {
			t.Fatalf("maxChars=%d: missing truncation marker", maxChars)
		}
		if n := len(got) - len(TruncationMarker); n > maxChars {
			t.Fatalf("maxChars=%d: kept %d bytes", maxChars, n)
		}
	}
}

func TestCleanShortContentNotTruncated(t *testing.T) {
	got := NewSanitizer(1000, 0).Clean("<html><body>short recipe</body></html>")
	if strings.Contains(got, TruncationMarker) {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got != "short recipe" {
		t.Fatalf("got %q", got)
	}
}
