package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "" {
		t.Errorf("default driver should be empty (memory), got %q", cfg.Database.Driver)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("buffer size = %d, want 1024", cfg.Events.BufferSize)
	}
	if cfg.Monitor.IntervalSecs != 15 {
		t.Errorf("monitor interval = %d, want 15", cfg.Monitor.IntervalSecs)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
auth:
  enabled: true
  secret: file-secret
events:
  redis_addr: localhost:6379
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ESCROW_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Secret != "file-secret" {
		t.Errorf("auth = %+v, want enabled with file-secret", cfg.Auth)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.RateLimitPerSec != 50 {
		t.Errorf("rate limit = %d, want default 50", cfg.Server.RateLimitPerSec)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ESCROW_CONFIG", path)
	t.Setenv("ESCROW_SERVER_PORT", "7070")
	t.Setenv("ESCROW_DB_DRIVER", "postgres")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.Driver)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"ESCROW_SERVER_PORT": "99999"}},
		{"auth without secret", map[string]string{"ESCROW_AUTH_ENABLED": "true"}},
		{"sweeper without authority", map[string]string{"ESCROW_SWEEPER_ENABLED": "true"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("ESCROW_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
