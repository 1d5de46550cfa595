package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Inference.Mode != InferenceModeDisabled {
		t.Errorf("expected inference disabled by default, got %q", cfg.Inference.Mode)
	}
	if cfg.Inference.Timeout != 30*time.Second {
		t.Errorf("expected 30s inference timeout, got %s", cfg.Inference.Timeout)
	}
	if cfg.Chat.ContextAnswerLimit != 20 {
		t.Errorf("expected context answer limit 20, got %d", cfg.Chat.ContextAnswerLimit)
	}
	if cfg.Chat.FallbackAnswerLimit != 3 {
		t.Errorf("expected fallback answer limit 3, got %d", cfg.Chat.FallbackAnswerLimit)
	}
	if !cfg.ConversationLog.Enabled {
		t.Error("expected conversation log enabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("INFERENCE_MODE", "docker")
	t.Setenv("INFERENCE_TIMEOUT", "10s")
	t.Setenv("INFERENCE_ENGINE_IDLE_TTL", "5m")
	t.Setenv("CONVERSATION_LOG_ENABLED", "false")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %q", cfg.Port)
	}
	if cfg.Inference.Mode != InferenceModeDocker {
		t.Errorf("expected docker mode, got %q", cfg.Inference.Mode)
	}
	if cfg.Inference.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.Inference.Timeout)
	}
	if cfg.Inference.EngineIdleTTL != 5*time.Minute {
		t.Errorf("expected 5m idle TTL, got %s", cfg.Inference.EngineIdleTTL)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("expected conversation log disabled")
	}
	if cfg.RateLimit.RequestsPerWindow != 5 {
		t.Errorf("expected 5 requests per window, got %d", cfg.RateLimit.RequestsPerWindow)
	}
}

func TestLoadRejectsBadInferenceMode(t *testing.T) {
	t.Setenv("INFERENCE_MODE", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject unknown inference mode")
	}
}

func TestValidateRequiresScriptWhenEnabled(t *testing.T) {
	t.Setenv("INFERENCE_MODE", "process")
	t.Setenv("INFERENCE_SCRIPT", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to require a script path when inference is enabled")
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://echos.example.com", false},
	}

	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.frontendURL}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.frontendURL, got, tt.want)
		}
	}
}
