package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"recipebox/internal/config"
	"recipebox/internal/robots"
	"recipebox/pkg/types"
)

// Fetcher retrieves the HTML document behind a user-supplied URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// botBlockMarkers are phrases that identify challenge interstitials served
// with a 200 status instead of real content.
var botBlockMarkers = []string{
	"cf-browser-verification",
	"checking your browser",
	"enable javascript",
	"ddos-guard",
	"just a moment",
}

// botBlockSizeThreshold separates challenge pages from real recipe pages,
// which are large.
const botBlockSizeThreshold = 20000

// HTTPFetcher implements Fetcher via the Go http.Client with a browser-like
// request signature.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	extraHeaders map[string]string
	maxBodyBytes int64
	hostLimiter  *HostLimiter
	robots       *robots.Agent
}

// NewHTTPFetcher constructs an HTTP fetcher from configuration. The robots
// agent may be nil when robots.txt respect is disabled.
func NewHTTPFetcher(cfg config.FetchConfig, robotsAgent *robots.Agent) (*HTTPFetcher, error) {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 6 * 1024 * 1024
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(cfg.ProxyURL) != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent:    cfg.UserAgent,
		extraHeaders: headers,
		maxBodyBytes: maxBody,
		hostLimiter:  NewHostLimiter(cfg.PerHostDelay.Duration, RateLimiterSettings{Requests: cfg.RateLimitPerHost.Requests, Window: cfg.RateLimitPerHost.Window.Duration}),
		robots:       robotsAgent,
	}, nil
}

// Fetch downloads the URL and classifies the outcome. Redirects are
// followed; 403/429 responses and challenge pages fail as blocked.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || target.Host == "" {
		return "", types.NewImportError(types.KindInvalidInput, "invalid url %q", rawURL)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", types.NewImportError(types.KindInvalidInput, "invalid URL protocol %q: only HTTP and HTTPS are supported", target.Scheme)
	}

	if f.robots != nil && !f.robots.Allowed(ctx, target) {
		return "", types.NewImportError(types.KindBlockedBySource, "robots.txt of %s disallows fetching this page", target.Hostname())
	}
	if err := f.hostLimiter.Wait(ctx, target.Hostname()); err != nil {
		return "", types.WrapImportError(types.KindTimeout, err, "waiting for politeness window on %s", target.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", types.WrapImportError(types.KindInvalidInput, err, "build request for %s", rawURL)
	}
	f.setHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return "", types.WrapImportError(types.KindTimeout, err,
				"the site took too long to respond; it may be blocking automated access")
		}
		return "", types.WrapImportError(types.KindFetchFailed, err, "fetch %s", target.Hostname())
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		drain(resp.Body)
		return "", types.NewImportError(types.KindBlockedBySource,
			"this site (%s) blocks automated access; try a different recipe site or enter the recipe manually", target.Hostname())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return "", types.NewImportError(types.KindFetchFailed,
			"failed to fetch URL: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := f.readBody(resp)
	if err != nil {
		return "", types.WrapImportError(types.KindFetchFailed, err, "read body from %s", target.Hostname())
	}

	html := string(body)
	if isBotBlock(html) {
		return "", types.NewImportError(types.KindBlockedBySource,
			"this site (%s) requires browser verification and can't be imported automatically", target.Hostname())
	}
	return html, nil
}

func (f *HTTPFetcher) setHeaders(req *http.Request) {
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	for k, v := range f.extraHeaders {
		req.Header.Set(k, v)
	}
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

func isBotBlock(html string) bool {
	if len(html) >= botBlockSizeThreshold {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range botBlockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
