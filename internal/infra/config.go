package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Backend modes accepted by BACKEND_MODE.
const (
	BackendMock   = "mock"
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	JWTSecret        string
	GeoIPDBPath      string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string
	GeminiBaseURL    string
	BackendMode      string
	BackendURL       string
	BackendToken     string
	ProfileBackend   string
	ProfilePath      string
	StoryPreset      string
	Locale           string
	RitualTimeout    time.Duration
	RitualCooldown   time.Duration
	MockDelay        time.Duration
	PanelConcurrency int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		GeminiImageModel: os.Getenv("GEMINI_IMAGE_MODEL"),
		GeminiBaseURL:    os.Getenv("GEMINI_BASE_URL"),
		BackendMode:      strings.ToLower(getEnv("BACKEND_MODE", BackendMock)),
		BackendURL:       getEnv("BACKEND_URL", "http://localhost:8080/api/generateCase"),
		BackendToken:     os.Getenv("BACKEND_TOKEN"),
		ProfileBackend:   strings.ToLower(getEnv("PROFILE_BACKEND", "file")),
		ProfilePath:      getEnv("PROFILE_PATH", defaultProfilePath()),
		StoryPreset:      getEnv("STORY_PRESET", "tech-noir"),
		Locale:           getEnv("NOIRVRS_LOCALE", "en"),
		RitualTimeout:    getEnvDuration("RITUAL_TIMEOUT_SECONDS", time.Second, 90*time.Second),
		RitualCooldown:   getEnvDuration("RITUAL_COOLDOWN_SECONDS", time.Second, 0),
		MockDelay:        getEnvDuration("MOCK_DELAY_MS", time.Millisecond, 1500*time.Millisecond),
		PanelConcurrency: getEnvInt("PANEL_CONCURRENCY", 2),
		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT_SECONDS", time.Second, 15*time.Second),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT_SECONDS", time.Second, 120*time.Second),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT_SECONDS", time.Second, 60*time.Second),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	switch cfg.BackendMode {
	case BackendMock, BackendHTTP, BackendGemini:
	default:
		return nil, fmt.Errorf("BACKEND_MODE %q is not one of mock, http, gemini", cfg.BackendMode)
	}
	switch cfg.ProfileBackend {
	case "file", "sqlite", "memory":
	default:
		return nil, fmt.Errorf("PROFILE_BACKEND %q is not one of file, sqlite, memory", cfg.ProfileBackend)
	}
	if cfg.BackendMode == BackendGemini && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when BACKEND_MODE=gemini")
	}

	return cfg, nil
}

// RequireServer checks the settings only the case server needs.
func (c *Config) RequireServer() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".noirvrs"
	}
	return filepath.Join(dir, "noirvrs")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, unit, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return time.Duration(i) * unit
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
