// Package config provides configuration for the trace service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration. It is constructed once at
// process start and passed into constructors; nothing reads the
// environment after Load returns.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Blob store root directory
	BlobRoot string

	// Sandbox settings
	SandboxImage       string
	SandboxCommand     string
	SandboxTimeout     time.Duration
	SandboxMemoryBytes int64

	// Judge settings. JudgeMode=MOCK swaps in the mock LLM client.
	JudgeMode    string
	JudgeModel   string
	JudgeBaseURL string
	JudgeAPIKey  string
	JudgeTimeout time.Duration

	// Sandbox mode. SandboxMode=MOCK swaps in the mock executor.
	SandboxMode string

	// QA worker
	QASweepInterval time.Duration

	// Materializer inline-blob threshold; 0 disables inlining.
	InlineBlobMaxBytes int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:        getEnv("DATABASE_URL", "file:tracekit.db?cache=shared&mode=rwc"),
		BlobRoot:           getEnv("BLOB_ROOT", "/data/blobs"),
		SandboxImage:       getEnv("SANDBOX_IMAGE", "tracekit-test:latest"),
		SandboxCommand:     getEnv("SANDBOX_COMMAND", "make test"),
		SandboxTimeout:     time.Duration(getEnvInt("SANDBOX_TIMEOUT_MS", 300000)) * time.Millisecond,
		SandboxMemoryBytes: int64(getEnvInt("SANDBOX_MEMORY_BYTES", 2<<30)),
		JudgeMode:          getEnv("JUDGE_MODE", ""),
		JudgeModel:         getEnv("JUDGE_MODEL", "gpt-4o"),
		JudgeBaseURL:       getEnv("JUDGE_BASE_URL", "http://localhost:4000"),
		JudgeAPIKey:        getEnv("JUDGE_API_KEY", ""),
		JudgeTimeout:       time.Duration(getEnvInt("JUDGE_TIMEOUT_MS", 120000)) * time.Millisecond,
		SandboxMode:        getEnv("SANDBOX_MODE", ""),
		QASweepInterval:    time.Duration(getEnvInt("QA_SWEEP_INTERVAL_MS", 5000)) * time.Millisecond,
		InlineBlobMaxBytes: int64(getEnvInt("INLINE_BLOB_MAX_BYTES", 0)),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
