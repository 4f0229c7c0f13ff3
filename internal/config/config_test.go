package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_APP_TOKEN", "xapp-test")
}

func TestLoadFromEnvOnly(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AIDA_MAX_CONCURRENCY", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.Processing.MaxConcurrency)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("Model = %q, want default gpt-4o", cfg.LLM.Model)
	}
}

func TestLoadBraveKeyFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AIDA_BRAVE_API_KEY", "brave-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tools.BraveAPIKey != "brave-secret" {
		t.Errorf("BraveAPIKey = %q", cfg.Tools.BraveAPIKey)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Load succeeded without credentials, want error")
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AIDA_MODEL", "gpt-4-turbo")

	path := filepath.Join(t.TempDir(), "aida.yaml")
	data := []byte("llm:\n  model: gpt-4o-mini\nprocessing:\n  max_concurrency: 2\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gpt-4-turbo" {
		t.Errorf("env override lost: Model = %q", cfg.LLM.Model)
	}
	if cfg.Processing.MaxConcurrency != 2 {
		t.Errorf("file value lost: MaxConcurrency = %d", cfg.Processing.MaxConcurrency)
	}
}

func TestInvalidConcurrencyFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AIDA_MAX_CONCURRENCY", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want default 5", cfg.Processing.MaxConcurrency)
	}
}

func TestContextBudget(t *testing.T) {
	cfg := Default()
	if got := cfg.ContextBudget("gpt-4o"); got != 100000 {
		t.Errorf("ContextBudget(gpt-4o) = %d, want 100000", got)
	}
	if got := cfg.ContextBudget("mystery-model"); got != 32000 {
		t.Errorf("ContextBudget(unknown) = %d, want fallback 32000", got)
	}
}
