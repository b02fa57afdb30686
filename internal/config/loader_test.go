package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesAndReadsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.RingTimeout != 30*time.Second || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
addr: ":9090"
log_level: debug
ring_timeout: 10s
cache_fallback_enabled: true
presence_use_cache: true
cache_connections:
  cache: "redis://localhost:6379/0"
  presence: "redis://localhost:6379/1"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.LogLevel != "debug" || cfg.RingTimeout != 10*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.CacheFallbackEnabled || !cfg.PresenceUseCache {
		t.Fatalf("cache flags not applied: %+v", cfg)
	}
	if cfg.CacheConnections["presence"] != "redis://localhost:6379/1" {
		t.Fatalf("cache connections not applied: %+v", cfg.CacheConnections)
	}
}

func TestUpdateFromSkipsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7070"})

	if cfg.Addr != ":7070" {
		t.Fatalf("addr not updated: %q", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 5*time.Second || cfg.LogLevel != "info" {
		t.Fatalf("zero values must not clobber defaults: %+v", cfg)
	}
}
