package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Limits.RPM != 15 || cfg.Limits.RPD != 1500 || cfg.Limits.TPM != 1000000 {
		t.Fatalf("unexpected default limits: %+v", cfg.Limits)
	}
	if cfg.Fetch.Timeout.Duration != 15*time.Second {
		t.Fatalf("expected 15s fetch timeout, got %s", cfg.Fetch.Timeout)
	}
	if cfg.Sanitize.MaxChars != 30000 {
		t.Fatalf("expected 30000 sanitize budget, got %d", cfg.Sanitize.MaxChars)
	}
}

func TestLoadFromReaderOverridesDefaults(t *testing.T) {
	yaml := `
server:
  addr: ":9090"
fetch:
  timeout: 5s
gemini:
  api_key: test-key
  model: gemini-test
limits:
  rpm: 3
  rpd: 10
robots:
  respect: true
  overrides: [" Example.COM ", "example.com", "other.net"]
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr not overridden: %s", cfg.Server.Addr)
	}
	if cfg.Fetch.Timeout.Duration != 5*time.Second {
		t.Fatalf("timeout not overridden: %s", cfg.Fetch.Timeout)
	}
	if cfg.Limits.RPM != 3 || cfg.Limits.RPD != 10 {
		t.Fatalf("limits not overridden: %+v", cfg.Limits)
	}
	if got := cfg.Robots.Overrides; len(got) != 2 || got[0] != "example.com" || got[1] != "other.net" {
		t.Fatalf("overrides not deduped/lowered: %v", got)
	}
	// Untouched sections keep defaults.
	if cfg.Sanitize.MaxChars != 30000 {
		t.Fatalf("sanitize default lost: %d", cfg.Sanitize.MaxChars)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("bogus_section:\n  x: 1\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Server.Addr = "" },
		func(c *Config) { c.Fetch.UserAgent = " " },
		func(c *Config) { c.Fetch.Timeout = Duration{} },
		func(c *Config) { c.Sanitize.MaxChars = 0 },
		func(c *Config) { c.Limits.RPM = 0 },
		func(c *Config) { c.Gemini.Timeout = Duration{} },
		func(c *Config) { c.Robots.Respect = true; c.Robots.UserAgent = "" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestDurationYAMLForms(t *testing.T) {
	yaml := `
fetch:
  per_host_delay: 2
  timeout: 1500ms
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fetch.PerHostDelay.Duration != 2*time.Second {
		t.Fatalf("numeric duration: got %s", cfg.Fetch.PerHostDelay)
	}
	if cfg.Fetch.Timeout.Duration != 1500*time.Millisecond {
		t.Fatalf("string duration: got %s", cfg.Fetch.Timeout)
	}
}
