package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: Model name to use (default: gpt-4.1)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 16000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.1)
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
//
// Engine Configuration:
// - BATCH_TOKEN_BUDGET: Estimated token budget per batch (default: 80000)
// - MAX_RETRIES: Provider retry attempts per batch (default: 6)
// - RETRY_BASE_S: Exponential backoff base in seconds (default: 2.0)
//
// Queue Configuration:
// - JOB_TTL_HOURS: Job retention in hours (default: 48)
// - DOWNLOAD_TTL_HOURS: Download token retention in hours (default: 2)
// - PER_FILE_COST_S: ETA seconds per file (default: 30)
// - QUEUE_WAIT_UNIT_S: ETA seconds per queue position (default: 60)
// - CLEANUP_CRON: Cron expression for the expiry sweep (default: hourly)
// - MAX_PROCESSING_MINUTES: Stuck-job threshold (default: 120)
// - MAX_REQUEUES: Stuck-job requeue budget (default: 1)
//
// System Configuration:
// - DATA_DIR: Working directory for uploads, checkpoints, artifacts (default: data)
// - DB_PATH: SQLite database path (default: <DATA_DIR>/doctrans.db)
// - HTTP_ADDR: Listen address (default: :8001)
// - LOG_LEVEL: debug|info|warn|error (default: info)
type Config struct {
	LLM    LLMConfig
	Engine EngineConfig
	Queue  QueueConfig
	System SystemConfig
}

// LLMConfig holds the configuration for the translation provider client.
// Supports any OpenAI-compatible provider.
type LLMConfig struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     int
}

// EngineConfig holds the batch translation engine tunables.
type EngineConfig struct {
	TokenBudget int
	MaxRetries  int
	RetryBase   float64
}

// QueueConfig holds job store and scheduler tunables.
type QueueConfig struct {
	JobTTL         time.Duration
	DownloadTTL    time.Duration
	PerFileCost    time.Duration
	QueueWaitUnit  time.Duration
	CleanupCron    string
	IdleInterval   time.Duration
	ErrorBackoff   time.Duration
	CleanupBackoff time.Duration
	MaxProcessing  time.Duration
	MaxRequeues    int
}

// SystemConfig holds filesystem and serving configuration.
type SystemConfig struct {
	DataDir  string
	DBPath   string
	HTTPAddr string
	LogLevel string
}

// NewFromEnv creates a Config instance from environment variables.
func NewFromEnv() (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "data")

	cfg := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:       getEnvString("LLM_MODEL", "gpt-4.1"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 16000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
			Timeout:     getEnvInt("LLM_TIMEOUT", 120),
		},
		Engine: EngineConfig{
			TokenBudget: getEnvInt("BATCH_TOKEN_BUDGET", 80000),
			MaxRetries:  getEnvInt("MAX_RETRIES", 6),
			RetryBase:   getEnvFloat("RETRY_BASE_S", 2.0),
		},
		Queue: QueueConfig{
			JobTTL:         time.Duration(getEnvInt("JOB_TTL_HOURS", 48)) * time.Hour,
			DownloadTTL:    time.Duration(getEnvInt("DOWNLOAD_TTL_HOURS", 2)) * time.Hour,
			PerFileCost:    time.Duration(getEnvInt("PER_FILE_COST_S", 30)) * time.Second,
			QueueWaitUnit:  time.Duration(getEnvInt("QUEUE_WAIT_UNIT_S", 60)) * time.Second,
			CleanupCron:    getEnvString("CLEANUP_CRON", "0 * * * *"),
			IdleInterval:   time.Duration(getEnvInt("IDLE_INTERVAL_S", 10)) * time.Second,
			ErrorBackoff:   time.Duration(getEnvInt("ERROR_BACKOFF_S", 30)) * time.Second,
			CleanupBackoff: time.Duration(getEnvInt("CLEANUP_BACKOFF_S", 60)) * time.Second,
			MaxProcessing:  time.Duration(getEnvInt("MAX_PROCESSING_MINUTES", 120)) * time.Minute,
			MaxRequeues:    getEnvInt("MAX_REQUEUES", 1),
		},
		System: SystemConfig{
			DataDir:  dataDir,
			DBPath:   getEnvString("DB_PATH", dataDir+"/doctrans.db"),
			HTTPAddr: getEnvString("HTTP_ADDR", ":8001"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Engine.TokenBudget < 1 {
		return fmt.Errorf("BATCH_TOKEN_BUDGET must be greater than 0")
	}
	if c.Engine.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be greater than 0")
	}
	if c.Engine.RetryBase <= 0 {
		return fmt.Errorf("RETRY_BASE_S must be greater than 0")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
