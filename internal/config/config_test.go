package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"flowscribe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FLOWSCRIBE_API_TOKEN", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "flowscribe")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7491" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.ThrottleInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected throttle interval: %s", cfg.ThrottleInterval())
	}
	if !cfg.Storage.WorkerEnabled {
		t.Fatal("expected worker enabled by default")
	}
	if cfg.History.MaxEntries != config.Default().History.MaxEntries {
		t.Fatalf("unexpected history cap: %d", cfg.History.MaxEntries)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "sessions.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "flowscribe.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Storage struct {
			ThrottleMS    int  `toml:"throttle_ms"`
			WorkerEnabled bool `toml:"worker_enabled"`
		} `toml:"storage"`
		History struct {
			MaxEntries int `toml:"max_entries"`
		} `toml:"history"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Storage.ThrottleMS = 250
	custom.Storage.WorkerEnabled = false
	custom.History.MaxEntries = 7

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.DataDir != custom.Paths.DataDir {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.ThrottleInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected throttle: %s", cfg.ThrottleInterval())
	}
	if cfg.Storage.WorkerEnabled {
		t.Fatal("expected worker disabled by custom config")
	}
	if cfg.History.MaxEntries != 7 {
		t.Fatalf("unexpected history cap: %d", cfg.History.MaxEntries)
	}
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("FLOWSCRIBE_API_TOKEN", " secret ")
	t.Setenv("FLOWSCRIBE_NTFY_TOPIC", "https://ntfy.sh/flowscribe-test")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/flowscribe-test" {
		t.Fatalf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"history cap", func(c *config.Config) { c.History.MaxEntries = -1 }, "history.max_entries"},
		{"negative throttle", func(c *config.Config) { c.Storage.ThrottleMS = -5 }, "storage.throttle_ms"},
		{"negative quota", func(c *config.Config) { c.Storage.QuotaBytes = -1 }, "storage.quota_bytes"},
		{"bad bind", func(c *config.Config) { c.Paths.APIBind = "nonsense" }, "paths.api_bind"},
		{"bad topic", func(c *config.Config) { c.Notifications.NtfyTopic = "topic" }, "notifications.ntfy_topic"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Storage.LargePayloadWarnBytes != config.Default().Storage.LargePayloadWarnBytes {
		t.Fatalf("unexpected warn threshold: %d", cfg.Storage.LargePayloadWarnBytes)
	}
}
