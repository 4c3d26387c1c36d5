package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("TRAKT_CLIENT_ID", "id")
	t.Setenv("TRAKT_CLIENT_SECRET", "secret")
	t.Setenv("AUTOSYNC_PROVIDERS", "jellyfin, netflix,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.MatchWindow != 26*time.Hour {
		t.Errorf("Expected 26h match window, got %v", cfg.MatchWindow)
	}
	if cfg.MinProgress != 80 {
		t.Errorf("Expected min progress 80, got %v", cfg.MinProgress)
	}
	if cfg.CacheBackend != CacheBackendBolt {
		t.Errorf("Expected bolt cache backend, got %s", cfg.CacheBackend)
	}
	if cfg.DatabaseFile != filepath.Join(dir, "scrobblarr.db") {
		t.Errorf("Unexpected database file %s", cfg.DatabaseFile)
	}
	if len(cfg.AutoSyncProviders) != 2 || cfg.AutoSyncProviders[1] != "netflix" {
		t.Errorf("Expected [jellyfin netflix], got %v", cfg.AutoSyncProviders)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			TraktClientID:     "id",
			TraktClientSecret: "secret",
			CacheBackend:      CacheBackendBolt,
			MinProgress:       80,
			MatchWindow:       26 * time.Hour,
			HistoryPageSize:   100,
			MatchConcurrency:  4,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	cfg := valid()
	cfg.CacheBackend = CacheBackendRedis
	if err := cfg.Validate(); err == nil {
		t.Error("Expected redis backend without REDIS_URL to fail")
	}

	cfg = valid()
	cfg.JellyfinURL = "http://jellyfin:8096"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected Jellyfin without credentials to fail")
	}

	cfg = valid()
	cfg.MinProgress = 120
	if err := cfg.Validate(); err == nil {
		t.Error("Expected out of range MIN_PROGRESS to fail")
	}

	cfg = valid()
	cfg.TraktClientSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected missing TRAKT_CLIENT_SECRET to fail")
	}
}
