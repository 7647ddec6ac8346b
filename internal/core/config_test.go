package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("base_url: http://console.local:9000\nbackoff_cap: 45s\nwarmup_delays: [1s, 2s]\nnotify_patterns: [\"peer-*\"]\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LEDGERSYNC_TOKEN", "secret")
	t.Setenv("LEDGERSYNC_POLL_INTERVAL", "20s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BaseURL != "http://console.local:9000" {
		t.Fatalf("base url = %q", cfg.BaseURL)
	}
	if cfg.BackoffCap != 45*time.Second {
		t.Fatalf("backoff cap = %s", cfg.BackoffCap)
	}
	if cfg.BackoffFloor != time.Second {
		t.Fatalf("backoff floor should keep default, got %s", cfg.BackoffFloor)
	}
	if len(cfg.WarmupDelays) != 2 || cfg.WarmupDelays[1] != 2*time.Second {
		t.Fatalf("warmup delays = %v", cfg.WarmupDelays)
	}
	if cfg.Token != "secret" {
		t.Fatalf("token = %q", cfg.Token)
	}
	if cfg.PollInterval != 20*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval)
	}
	if len(cfg.NotifyPatterns) != 1 || cfg.NotifyPatterns[0] != "peer-*" {
		t.Fatalf("notify patterns = %v", cfg.NotifyPatterns)
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LEDGERSYNC_JOURNAL", "")
	os.Unsetenv("LEDGERSYNC_JOURNAL")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LEDGERSYNC_JOURNAL=/tmp/ledger.db\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.JournalPath != "/tmp/ledger.db" {
		t.Fatalf("journal path = %q", cfg.JournalPath)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "localhost"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for base url without scheme")
	}

	cfg = DefaultConfig()
	cfg.BackoffCap = 500 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cap below floor")
	}
}
