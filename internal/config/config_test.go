package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.BaseURL != "https://api.openai.com" {
		t.Errorf("expected default base URL, got %s", cfg.BaseURL)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", cfg.Model)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %v", cfg.Temperature)
	}
	if cfg.MaxTokens != 1024 {
		t.Errorf("expected default max_tokens 1024, got %d", cfg.MaxTokens)
	}
	if cfg.DBPath != "promptplane.db" {
		t.Errorf("expected default db path, got %s", cfg.DBPath)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROMPTPLANE_API_KEY", "sk-test")
	t.Setenv("PROMPTPLANE_BASE_URL", "http://localhost:8080")
	t.Setenv("PROMPTPLANE_MODEL", "gpt-4o")
	t.Setenv("PROMPTPLANE_MAX_TOKENS", "256")
	t.Setenv("PROMPTPLANE_DB", "/tmp/ledger.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIKey != "sk-test" {
		t.Errorf("expected APIKey from env, got %s", cfg.APIKey)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("expected BaseURL from env, got %s", cfg.BaseURL)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected Model gpt-4o, got %s", cfg.Model)
	}
	if cfg.MaxTokens != 256 {
		t.Errorf("expected MaxTokens 256, got %d", cfg.MaxTokens)
	}
	if cfg.DBPath != "/tmp/ledger.db" {
		t.Errorf("expected DBPath from env, got %s", cfg.DBPath)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptplane.yaml")
	content := `
api_key: "sk-from-file"
base_url: "http://file:9999"
model: "o3-mini"
temperature: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIKey != "sk-from-file" {
		t.Errorf("expected APIKey from config file, got %s", cfg.APIKey)
	}
	if cfg.Model != "o3-mini" {
		t.Errorf("expected Model o3-mini, got %s", cfg.Model)
	}
	if cfg.Temperature != 0.2 {
		t.Errorf("expected Temperature 0.2, got %v", cfg.Temperature)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptplane.yaml")
	if err := os.WriteFile(path, []byte(`model: "from-file"`), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("PROMPTPLANE_MODEL", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model != "from-env" {
		t.Errorf("env should override config file, got %s", cfg.Model)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("PROMPTPLANE_MAX_TOKENS", "-5")
	if _, err := Load(""); err == nil {
		t.Error("expected error for negative max_tokens")
	}

	t.Setenv("PROMPTPLANE_MAX_TOKENS", "100")
	t.Setenv("PROMPTPLANE_TEMPERATURE", "9.5")
	if _, err := Load(""); err == nil {
		t.Error("expected error for out-of-range temperature")
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load("/nonexistent/promptplane.yaml"); err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
