package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":5000" {
		t.Fatalf("BindAddr = %q, want :5000", cfg.BindAddr)
	}
	if cfg.FrameQueueCapacity != 5 {
		t.Fatalf("FrameQueueCapacity = %d, want 5", cfg.FrameQueueCapacity)
	}
	if cfg.RateLimitInterval != 10*time.Second {
		t.Fatalf("RateLimitInterval = %v, want 10s", cfg.RateLimitInterval)
	}
	if cfg.MaxOutputTokens != 300 {
		t.Fatalf("MaxOutputTokens = %d, want 300", cfg.MaxOutputTokens)
	}
	if cfg.Temperature != 0.7 {
		t.Fatalf("Temperature = %v, want 0.7", cfg.Temperature)
	}
	if cfg.GeminiVoice != "Leda" {
		t.Fatalf("GeminiVoice = %q, want Leda", cfg.GeminiVoice)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_RATE_LIMIT_INTERVAL", "3s")
	t.Setenv("APP_FRAME_QUEUE_CAPACITY", "8")
	t.Setenv("GEMINI_TEMPERATURE", "1.1")
	t.Setenv("APP_MIC_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RateLimitInterval != 3*time.Second {
		t.Fatalf("RateLimitInterval = %v, want 3s", cfg.RateLimitInterval)
	}
	if cfg.FrameQueueCapacity != 8 {
		t.Fatalf("FrameQueueCapacity = %d, want 8", cfg.FrameQueueCapacity)
	}
	if cfg.Temperature != 1.1 {
		t.Fatalf("Temperature = %v, want 1.1", cfg.Temperature)
	}
	if cfg.MicEnabled {
		t.Fatalf("MicEnabled should be false")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"APP_FRAME_QUEUE_CAPACITY", "0"},
		{"APP_FRAME_QUEUE_CAPACITY", "notanint"},
		{"APP_RATE_LIMIT_INTERVAL", "100ms"},
		{"GEMINI_TEMPERATURE", "9.5"},
		{"GEMINI_MAX_OUTPUT_TOKENS", "-1"},
		{"APP_MIC_ENABLED", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should reject %s=%s", tc.key, tc.value)
			}
		})
	}
}
