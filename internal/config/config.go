// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Inference runner modes.
const (
	InferenceModeDisabled = ""
	InferenceModeProcess  = "process"
	InferenceModeDocker   = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogFile     string

	Inference       InferenceConfig
	Chat            ChatConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// InferenceConfig controls the external inference engine.
type InferenceConfig struct {
	Mode          string // "", "process" or "docker"
	PythonBin     string
	ScriptPath    string
	Timeout       time.Duration
	DockerImage   string
	EngineIdleTTL time.Duration
}

// ChatConfig controls context gathering and fallback synthesis.
type ChatConfig struct {
	ContextAnswerLimit  int
	FallbackAnswerLimit int
	MaxRequestBodySize  int64
	StreamChunkDelay    time.Duration
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls the durable conversation log writer.
type ConversationLogConfig struct {
	Enabled   bool
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/echos.db"),
		LogFile:     getEnv("LOG_FILE", ""),
		Inference: InferenceConfig{
			Mode:          getEnv("INFERENCE_MODE", InferenceModeDisabled),
			PythonBin:     getEnv("INFERENCE_PYTHON_BIN", "python3"),
			ScriptPath:    getEnv("INFERENCE_SCRIPT", "./inference/generate.py"),
			Timeout:       getEnvDuration("INFERENCE_TIMEOUT", 30*time.Second),
			DockerImage:   getEnv("INFERENCE_DOCKER_IMAGE", "echos-inference:latest"),
			EngineIdleTTL: getEnvDuration("INFERENCE_ENGINE_IDLE_TTL", 30*time.Minute),
		},
		Chat: ChatConfig{
			ContextAnswerLimit:  getEnvInt("CHAT_CONTEXT_ANSWER_LIMIT", 20),
			FallbackAnswerLimit: getEnvInt("CHAT_FALLBACK_ANSWER_LIMIT", 3),
			MaxRequestBodySize:  int64(getEnvInt("CHAT_MAX_REQUEST_BODY", 1<<20)),
			StreamChunkDelay:    getEnvDuration("CHAT_STREAM_CHUNK_DELAY", 75*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Inference.Mode {
	case InferenceModeDisabled, InferenceModeProcess, InferenceModeDocker:
	default:
		return fmt.Errorf("INFERENCE_MODE must be empty, %q or %q", InferenceModeProcess, InferenceModeDocker)
	}
	if c.Inference.Mode != InferenceModeDisabled {
		if c.Inference.ScriptPath == "" {
			return fmt.Errorf("INFERENCE_SCRIPT cannot be empty")
		}
		if c.Inference.Timeout <= 0 {
			return fmt.Errorf("INFERENCE_TIMEOUT must be > 0")
		}
	}
	if c.Chat.ContextAnswerLimit <= 0 {
		return fmt.Errorf("CHAT_CONTEXT_ANSWER_LIMIT must be > 0")
	}
	if c.Chat.FallbackAnswerLimit <= 0 {
		return fmt.Errorf("CHAT_FALLBACK_ANSWER_LIMIT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
