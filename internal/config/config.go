// Package config loads runtime configuration from environment variables
// and an optional YAML config file. Environment always wins.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// API credential for the live transport. Not required for dry runs.
	APIKey string

	// Base endpoint of the completions API.
	BaseURL string

	// Run-wide defaults applied to tasks that do not set their own.
	Model       string
	Temperature float64
	MaxTokens   int

	// Path of the execution ledger database.
	DBPath string
}

// Load reads configuration from an optional config file and environment
// variables prefixed with PROMPTPLANE_.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROMPTPLANE")
	v.AutomaticEnv()

	v.SetDefault("base_url", "https://api.openai.com")
	v.SetDefault("model", "gpt-4o-mini")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("db", "promptplane.db")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		APIKey:      v.GetString("api_key"),
		BaseURL:     v.GetString("base_url"),
		Model:       v.GetString("model"),
		Temperature: v.GetFloat64("temperature"),
		MaxTokens:   v.GetInt("max_tokens"),
		DBPath:      v.GetString("db"),
	}

	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("max_tokens must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be in [0, 2], got %v", cfg.Temperature)
	}

	return cfg, nil
}
