// Package config loads the bridge configuration: JSON file first, then
// environment overrides. Secrets come from the environment only and are never
// written back to disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the task bridge.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Lark     LarkConfig     `json:"lark"`
	Provider ProviderConfig `json:"provider"`
	Database DatabaseConfig `json:"database"`
	Agent    AgentConfig    `json:"agent"`
	Dedup    DedupConfig    `json:"dedup"`
	Session  SessionConfig  `json:"session"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhook_path"`
}

// LarkConfig configures the chat-platform client. AppSecret comes from env
// TASKBRIDGE_LARK_APP_SECRET only.
type LarkConfig struct {
	AppID             string `json:"app_id"`
	AppSecret         string `json:"-"`
	VerificationToken string `json:"-"`      // env TASKBRIDGE_LARK_VERIFICATION_TOKEN
	Domain            string `json:"domain"` // "feishu" (default) or "lark"
}

// ProviderConfig configures the LLM backend. APIKey comes from env
// TASKBRIDGE_LLM_API_KEY only.
type ProviderConfig struct {
	Name    string `json:"name"` // provider identifier, e.g. "openai", "deepseek"
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`
	Model   string `json:"model"`
}

// DatabaseConfig configures Postgres. The DSN is a secret and comes from env
// TASKBRIDGE_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN  string `json:"-"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// AgentConfig bounds the LLM fallback path.
type AgentConfig struct {
	Concurrency int64 `json:"concurrency"`
}

// DedupConfig bounds the inbound event deduplicator.
type DedupConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
	MaxEntries int `json:"max_entries"`
}

// SessionConfig bounds the disambiguation dialog.
type SessionConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// SessionTTL returns the dialog TTL as a duration.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DedupTTL returns the dedup window as a duration.
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        18791,
			WebhookPath: "/webhook/lark",
		},
		Lark: LarkConfig{
			Domain: "feishu",
		},
		Provider: ProviderConfig{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		Agent: AgentConfig{
			Concurrency: 10,
		},
		Dedup: DedupConfig{
			TTLSeconds: 300,
			MaxEntries: 5000,
		},
		Session: SessionConfig{
			TTLSeconds: 300,
		},
	}
}

// Load reads config from a JSON file, then overlays env vars. A missing file
// is not an error: defaults plus env is a valid deployment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("TASKBRIDGE_LARK_APP_ID", &c.Lark.AppID)
	envStr("TASKBRIDGE_LARK_APP_SECRET", &c.Lark.AppSecret)
	envStr("TASKBRIDGE_LARK_VERIFICATION_TOKEN", &c.Lark.VerificationToken)
	envStr("TASKBRIDGE_LARK_DOMAIN", &c.Lark.Domain)

	envStr("TASKBRIDGE_LLM_API_KEY", &c.Provider.APIKey)
	envStr("TASKBRIDGE_LLM_BASE_URL", &c.Provider.BaseURL)
	envStr("TASKBRIDGE_LLM_PROVIDER", &c.Provider.Name)
	envStr("TASKBRIDGE_MODEL", &c.Provider.Model)

	envStr("TASKBRIDGE_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("TASKBRIDGE_HOST", &c.Server.Host)
	if v := os.Getenv("TASKBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

// Validate checks the fields serve cannot run without.
func (c *Config) Validate() error {
	if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
		return fmt.Errorf("lark app credentials are not set (TASKBRIDGE_LARK_APP_ID / TASKBRIDGE_LARK_APP_SECRET)")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("TASKBRIDGE_LLM_API_KEY environment variable is not set")
	}
	if c.Database.PostgresDSN == "" {
		return fmt.Errorf("TASKBRIDGE_POSTGRES_DSN environment variable is not set")
	}
	return nil
}
