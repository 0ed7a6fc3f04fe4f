package config

import (
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %s, want 1m", cfg.PollInterval)
	}
	if cfg.MaxRedrafts != 3 || cfg.MaxIntents != 3 {
		t.Errorf("MaxRedrafts = %d, MaxIntents = %d", cfg.MaxRedrafts, cfg.MaxIntents)
	}
	if cfg.KnowledgeThreshold != 0.6 {
		t.Errorf("KnowledgeThreshold = %v, want 0.6", cfg.KnowledgeThreshold)
	}
	if cfg.TelegramEnabled() {
		t.Error("TelegramEnabled() = true without token")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			EncryptionKey:      testKey,
			PollInterval:       time.Minute,
			PollMaxBackoff:     10 * time.Minute,
			Workers:            4,
			MaxRedrafts:        3,
			MaxIntents:         3,
			KnowledgeThreshold: 0.6,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short key", func(c *Config) { c.EncryptionKey = "short" }, "ENCRYPTION_KEY"},
		{"backoff below interval", func(c *Config) { c.PollMaxBackoff = time.Second }, "POLL_MAX_BACKOFF"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "WORKERS"},
		{"zero redrafts", func(c *Config) { c.MaxRedrafts = 0 }, "MAX_REDRAFTS"},
		{"threshold out of range", func(c *Config) { c.KnowledgeThreshold = 1.5 }, "KNOWLEDGE_THRESHOLD"},
		{"token without chat", func(c *Config) { c.TelegramToken = "123:abc" }, "TELEGRAM_CHAT_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
