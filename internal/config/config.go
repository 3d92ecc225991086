package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the recipe importer.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        SQLConfig       `yaml:"db"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rendering RenderingConfig `yaml:"rendering"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxPDFBytes     int64    `yaml:"max_pdf_bytes"`
}

// SQLConfig describes the relational database used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
}

// FetchConfig controls outbound page retrieval.
type FetchConfig struct {
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	Timeout          Duration          `yaml:"timeout"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	ProxyURL         string            `yaml:"proxy_url"`
	PerHostDelay     Duration          `yaml:"per_host_delay"`
	RateLimitPerHost RateLimitConfig   `yaml:"rate_limit_per_host"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// RobotsConfig configures optional robots.txt handling. Imports are
// user-initiated, so this defaults to off.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// RenderingConfig controls optional JavaScript rendering of fetched pages.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// SanitizeConfig tunes the text reduction applied before AI extraction.
type SanitizeConfig struct {
	MaxChars            int `yaml:"max_chars"`
	MinMainContentChars int `yaml:"min_main_content_chars"`
}

// GeminiConfig identifies the AI provider credential and model. Both are
// required for any AI-path call and are checked before the call is made.
type GeminiConfig struct {
	APIKey  string   `yaml:"api_key"`
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// LimitsConfig carries the AI usage budget dimensions. TPM is tracked and
// reported but not enforced.
type LimitsConfig struct {
	RPM int `yaml:"rpm"`
	RPD int `yaml:"rpd"`
	TPM int `yaml:"tpm"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: DurationFrom(15 * time.Second),
			MaxPDFBytes:     10 * 1024 * 1024,
		},
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Fetch: FetchConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Headers:      map[string]string{},
			Timeout:      DurationFrom(15 * time.Second),
			MaxBodyBytes: 6 * 1024 * 1024,
			PerHostDelay: DurationFrom(250 * time.Millisecond),
		},
		Robots: RobotsConfig{
			Respect:   false,
			Overrides: []string{},
			UserAgent: "recipebox/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Timeout:            DurationFrom(30 * time.Second),
			ConcurrentSessions: 2,
		},
		Sanitize: SanitizeConfig{
			MaxChars:            30000,
			MinMainContentChars: 500,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-3-flash-preview",
			Timeout: DurationFrom(60 * time.Second),
		},
		Limits: LimitsConfig{
			RPM: 15,
			RPD: 1500,
			TPM: 1000000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// DefaultFromEnv returns the defaults with environment secrets applied.
// Used by the one-shot CLI, which runs fine without a config file.
func DefaultFromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads, merges, and validates configuration from a YAML file.
// Secrets may come from the environment instead of the file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployments override secrets without touching the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DB.DSN = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Gemini.Model = v
	}
}

// Validate enforces required invariants for the importer configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if c.Server.MaxPDFBytes <= 0 {
		return fmt.Errorf("server.max_pdf_bytes must be > 0 (got %d)", c.Server.MaxPDFBytes)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.Timeout.Duration <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if rl := c.Fetch.RateLimitPerHost; rl.Requests < 0 {
		return fmt.Errorf("fetch.rate_limit_per_host.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	if c.Sanitize.MaxChars <= 0 {
		return fmt.Errorf("sanitize.max_chars must be > 0 (got %d)", c.Sanitize.MaxChars)
	}
	if c.Limits.RPM <= 0 || c.Limits.RPD <= 0 {
		return errors.New("limits.rpm and limits.rpd must be > 0")
	}
	if c.Gemini.Timeout.Duration <= 0 {
		return errors.New("gemini.timeout must be > 0")
	}
	return nil
}

func (c *Config) normalise() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	c.Gemini.Model = strings.TrimSpace(c.Gemini.Model)

	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
