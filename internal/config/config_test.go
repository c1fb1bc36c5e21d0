package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero gap timeout", func(c *Config) { c.Sessionizer.GapTimeout = 0 }},
		{"zero token budget", func(c *Config) { c.Sessionizer.TokenBudget = 0 }},
		{"break percentile above one", func(c *Config) { c.Sessionizer.BreakPercentile = 1.5 }},
		{"zero dedup window", func(c *Config) { c.Broker.DedupWindow = 0 }},
		{"cap below base", func(c *Config) { c.Broker.BackoffCap = time.Millisecond }},
		{"zero worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"zero reconciler batch", func(c *Config) { c.Reconciler.BatchSize = 0 }},
		{"threshold above one", func(c *Config) { c.Reconciler.SyncHealthThreshold = 1.5 }},
		{"unknown embed provider", func(c *Config) { c.Embed.Provider = "word2vec" }},
		{"max topk below default", func(c *Config) { c.Search.MaxTopK = 1 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadAppliesYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
sessionizer:
  gap_timeout: 30m
  token_budget: 900
worker:
  concurrency: 8
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SESSION_TOKEN_BUDGET", "1200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sessionizer.GapTimeout != 30*time.Minute {
		t.Fatalf("gap timeout = %v, want 30m from yaml", cfg.Sessionizer.GapTimeout)
	}
	if cfg.Sessionizer.TokenBudget != 1200 {
		t.Fatalf("token budget = %d, env should override yaml", cfg.Sessionizer.TokenBudget)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("concurrency = %d, want 8 from yaml", cfg.Worker.Concurrency)
	}
	// Untouched keys keep defaults.
	if cfg.Broker.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want default 5", cfg.Broker.MaxAttempts)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("worker:\n  concurrency: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation failure for zero concurrency")
	}
}
