package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"BACKEND_MODE", "PROFILE_BACKEND", "RITUAL_TIMEOUT_SECONDS", "RITUAL_COOLDOWN_SECONDS", "MOCK_DELAY_MS", "ALLOWED_ORIGINS", "STORY_PRESET"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BackendMode != BackendMock {
		t.Fatalf("BackendMode = %q, want %q", cfg.BackendMode, BackendMock)
	}
	if cfg.ProfileBackend != "file" {
		t.Fatalf("ProfileBackend = %q, want file", cfg.ProfileBackend)
	}
	if cfg.RitualTimeout != 90*time.Second {
		t.Fatalf("RitualTimeout = %s, want 90s", cfg.RitualTimeout)
	}
	if cfg.RitualCooldown != 0 {
		t.Fatalf("RitualCooldown = %s, want disabled", cfg.RitualCooldown)
	}
	if cfg.MockDelay != 1500*time.Millisecond {
		t.Fatalf("MockDelay = %s", cfg.MockDelay)
	}
	if cfg.StoryPreset != "tech-noir" {
		t.Fatalf("StoryPreset = %q", cfg.StoryPreset)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins = %#v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	t.Setenv("BACKEND_MODE", "HTTP")
	t.Setenv("PROFILE_BACKEND", "sqlite")
	t.Setenv("RITUAL_TIMEOUT_SECONDS", "12")
	t.Setenv("RITUAL_COOLDOWN_SECONDS", "30")
	t.Setenv("MOCK_DELAY_MS", "0")
	t.Setenv("ALLOWED_ORIGINS", " https://noirvrs.app, ,http://localhost:5173 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BackendMode != BackendHTTP || cfg.ProfileBackend != "sqlite" {
		t.Fatalf("modes = %q %q", cfg.BackendMode, cfg.ProfileBackend)
	}
	if cfg.RitualTimeout != 12*time.Second || cfg.RitualCooldown != 30*time.Second || cfg.MockDelay != 0 {
		t.Fatalf("durations = %s %s %s", cfg.RitualTimeout, cfg.RitualCooldown, cfg.MockDelay)
	}
	expected := []string{"https://noirvrs.app", "http://localhost:5173"}
	if len(cfg.AllowedOrigins) != len(expected) {
		t.Fatalf("AllowedOrigins = %#v, want %#v", cfg.AllowedOrigins, expected)
	}
	for i, origin := range expected {
		if cfg.AllowedOrigins[i] != origin {
			t.Fatalf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], origin)
		}
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"BACKEND_MODE": "carrier-pigeon"}},
		{name: "unknown profile backend", env: map[string]string{"PROFILE_BACKEND": "redis"}},
		{name: "gemini without key", env: map[string]string{"BACKEND_MODE": "gemini", "GEMINI_API_KEY": ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("LoadConfig accepted %v", tc.env)
			}
		})
	}
}

func TestRequireServer(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BACKEND_MODE", "")
	t.Setenv("PROFILE_BACKEND", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if err := cfg.RequireServer(); err == nil {
		t.Fatalf("RequireServer accepted empty DATABASE_URL")
	}
	cfg.DatabaseURL = "postgres://example"
	if err := cfg.RequireServer(); err == nil {
		t.Fatalf("RequireServer accepted empty JWT_SECRET")
	}
	cfg.JWTSecret = "test-secret"
	if err := cfg.RequireServer(); err != nil {
		t.Fatalf("RequireServer returned error: %v", err)
	}
}
