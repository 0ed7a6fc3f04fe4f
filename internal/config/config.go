package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/autoreply.db"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Polling
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	PollMaxBackoff  time.Duration `env:"POLL_MAX_BACKOFF" envDefault:"10m"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	SMTPTimeout     time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`

	// Embedding and generation service (OpenAI compatible)
	OpenAIAPIKey   string `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"` // e.g., https://api.groq.com/openai/v1
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	ChatModel      string `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	EmbedMaxChars  int    `env:"EMBED_MAX_CHARS" envDefault:"8000"`

	// Matching
	MaxIntents         int     `env:"MAX_INTENTS" envDefault:"3"`
	KnowledgeThreshold float64 `env:"KNOWLEDGE_THRESHOLD" envDefault:"0.6"`
	KnowledgeLimit     int     `env:"KNOWLEDGE_LIMIT" envDefault:"3"`

	// Retries
	MaxRedrafts     int           `env:"MAX_REDRAFTS" envDefault:"3"`
	ServiceRetries  int           `env:"SERVICE_RETRIES" envDefault:"3"`
	DispatchRetries int           `env:"DISPATCH_RETRIES" envDefault:"3"`
	RetryBaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay   time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1m"`

	// Workers and circuit breaker
	Workers         int           `env:"WORKERS" envDefault:"4"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`

	// Shared cooldown across processes (optional)
	RedisURL string `env:"REDIS_URL"` // e.g., redis://localhost:6379/0

	// Operator console (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Intents and knowledge seed file (optional)
	CatalogFile string `env:"CATALOG_FILE"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if the operator console is configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges env.Parse cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollMaxBackoff < c.PollInterval {
		return fmt.Errorf("POLL_MAX_BACKOFF (%s) must not be shorter than POLL_INTERVAL (%s)", c.PollMaxBackoff, c.PollInterval)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxRedrafts < 1 {
		return fmt.Errorf("MAX_REDRAFTS must be at least 1, got %d", c.MaxRedrafts)
	}
	if c.MaxIntents < 1 {
		return fmt.Errorf("MAX_INTENTS must be at least 1, got %d", c.MaxIntents)
	}
	if c.KnowledgeThreshold < 0 || c.KnowledgeThreshold > 1 {
		return fmt.Errorf("KNOWLEDGE_THRESHOLD must be within [0,1], got %v", c.KnowledgeThreshold)
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}
