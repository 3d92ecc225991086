package fetcher

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recipebox/internal/config"
	"recipebox/pkg/types"
)

func testFetcher(t *testing.T, mutate func(*config.FetchConfig)) *HTTPFetcher {
	t.Helper()
	cfg := config.Default().Fetch
	cfg.PerHostDelay = config.Duration{}
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewHTTPFetcher(cfg, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func kindOf(t *testing.T, err error) types.ErrorKind {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	kind := types.KindOf(err)
	if kind == "" {
		t.Fatalf("error has no kind: %v", err)
	}
	return kind
}

func TestFetchRejectsNonHTTPSchemes(t *testing.T) {
	f := testFetcher(t, nil)
	for _, raw := range []string{"ftp://example.com/recipe", "file:///etc/passwd", "not a url"} {
		_, err := f.Fetch(context.Background(), raw)
		if got := kindOf(t, err); got != types.KindInvalidInput {
			t.Errorf("%q: expected invalid_input, got %s", raw, got)
		}
	}
}

func TestFetchReturnsBody(t *testing.T) {
	const page = "<html><body><h1>Pancakes</h1></body></html>"
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	html, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if html != page {
		t.Fatalf("unexpected body: %q", html)
	}
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Fatalf("expected browser-like user agent, got %q", gotUA)
	}
}

func TestFetchDecodesGzip(t *testing.T) {
	const page = "<html><body>compressed recipe</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(page))
		_ = gz.Close()
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	html, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if html != page {
		t.Fatalf("gzip body mismatch: %q", html)
	}
}

func TestFetchClassifiesBlockedStatuses(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		f := testFetcher(t, nil)
		_, err := f.Fetch(context.Background(), srv.URL)
		srv.Close()
		if got := kindOf(t, err); got != types.KindBlockedBySource {
			t.Errorf("status %d: expected blocked_by_source, got %s", status, got)
		}
	}
}

func TestFetchClassifiesOtherFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	if got := kindOf(t, err); got != types.KindFetchFailed {
		t.Fatalf("expected fetch_failed, got %s", got)
	}
}

func TestFetchDetectsChallengePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Just a moment... Checking your browser</body></html>"))
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	if got := kindOf(t, err); got != types.KindBlockedBySource {
		t.Fatalf("expected blocked_by_source for challenge page, got %s", got)
	}
}

func TestChallengeMarkersIgnoredOnLargePages(t *testing.T) {
	// Real recipe pages can legitimately mention "enable javascript" in a
	// noscript block; only small pages count as challenges.
	big := "<html><body>enable javascript " + strings.Repeat("recipe content ", 2000) + "</body></html>"
	if len(big) < botBlockSizeThreshold {
		t.Fatalf("test page too small: %d", len(big))
	}
	if isBotBlock(big) {
		t.Fatal("large page misclassified as bot block")
	}
	if !isBotBlock("<html>just a moment</html>") {
		t.Fatal("small challenge page not detected")
	}
}

func TestFetchTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := testFetcher(t, func(cfg *config.FetchConfig) {
		cfg.Timeout = config.DurationFrom(50 * time.Millisecond)
	})
	_, err := f.Fetch(context.Background(), srv.URL)
	if got := kindOf(t, err); got != types.KindTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	const page = "<html><body>final destination</body></html>"
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/end", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	})

	f := testFetcher(t, nil)
	html, err := f.Fetch(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if html != page {
		t.Fatalf("redirect not followed: %q", html)
	}
}
