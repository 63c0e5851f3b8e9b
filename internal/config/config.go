package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the glimpse server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	GeminiAPIKey    string
	GeminiModel     string
	GeminiVoice     string
	MaxOutputTokens int
	Temperature     float64
	EnableSearch    bool

	// Control-plane rate limit: one request per endpoint per interval.
	RateLimitInterval time.Duration

	FrameQueueCapacity int
	FrameWaitTimeout   time.Duration
	StopJoinTimeout    time.Duration

	MicEnabled      bool
	PlaybackEnabled bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":5000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "glimpse"),
		AllowAnyOrigin:   false,
		GeminiAPIKey:     envTrimmed("GEMINI_API_KEY"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "models/gemini-2.0-flash-live-001"),
		GeminiVoice:      envOrDefault("GEMINI_VOICE", "Leda"),
		MaxOutputTokens:  300,
		Temperature:      0.7,
		EnableSearch:     true,

		RateLimitInterval:  10 * time.Second,
		FrameQueueCapacity: 5,
		FrameWaitTimeout:   time.Second,
		StopJoinTimeout:    2 * time.Second,
		ShutdownTimeout:    15 * time.Second,

		MicEnabled:      true,
		PlaybackEnabled: false,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitInterval, err = durationFromEnv("APP_RATE_LIMIT_INTERVAL", cfg.RateLimitInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameWaitTimeout, err = durationFromEnv("APP_FRAME_WAIT_TIMEOUT", cfg.FrameWaitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StopJoinTimeout, err = durationFromEnv("APP_STOP_JOIN_TIMEOUT", cfg.StopJoinTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameQueueCapacity, err = intFromEnv("APP_FRAME_QUEUE_CAPACITY", cfg.FrameQueueCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxOutputTokens, err = intFromEnv("GEMINI_MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("GEMINI_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableSearch, err = boolFromEnv("GEMINI_ENABLE_SEARCH", cfg.EnableSearch)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MicEnabled, err = boolFromEnv("APP_MIC_ENABLED", cfg.MicEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackEnabled, err = boolFromEnv("APP_PLAYBACK_ENABLED", cfg.PlaybackEnabled)
	if err != nil {
		return Config{}, err
	}

	if cfg.FrameQueueCapacity <= 0 {
		return Config{}, fmt.Errorf("APP_FRAME_QUEUE_CAPACITY must be positive")
	}
	if cfg.RateLimitInterval < time.Second {
		return Config{}, fmt.Errorf("APP_RATE_LIMIT_INTERVAL must be at least 1s")
	}
	if cfg.FrameWaitTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_FRAME_WAIT_TIMEOUT must be positive")
	}
	if cfg.MaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("GEMINI_MAX_OUTPUT_TOKENS must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("GEMINI_TEMPERATURE must be within [0, 2]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
