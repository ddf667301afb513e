package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/postgen/postgen/internal/config"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGEN_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "gm-key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKey != "gm-key" {
		t.Errorf("LLM = %+v, want gemini with key from GEMINI_API_KEY", cfg.LLM)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("LLM.Timeout = %v, want 45s", cfg.LLM.Timeout)
	}
	if cfg.RateLimit.Requests != 10 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit = %+v, want 10 per minute", cfg.RateLimit)
	}
	if cfg.Generation.Temperature != 0.6 || cfg.Generation.PostCount != 3 {
		t.Errorf("Generation = %+v", cfg.Generation)
	}
	if cfg.Facts.UserAgent != "Mozilla/5.0 (PostGen/1.0)" {
		t.Errorf("Facts.UserAgent = %q", cfg.Facts.UserAgent)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("POSTGEN_PORT", "9090")
	t.Setenv("POSTGEN_RATE_LIMIT__REQUESTS", "3")
	t.Setenv("POSTGEN_LLM__MODEL", "gemini-2.5-pro")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.RateLimit.Requests != 3 {
		t.Errorf("RateLimit.Requests = %d, want 3", cfg.RateLimit.Requests)
	}
	if cfg.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("LLM.Model = %q, want gemini-2.5-pro", cfg.LLM.Model)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postgen.yaml")
	yaml := `
llm:
  provider: openai
  api_key: ${TEST_OPENAI_KEY}
  timeout: 5s
store:
  driver: sqlite
  path: /tmp/usage.db
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POSTGEN_CONFIG", path)
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("LLM = %+v, want openai with substituted key", cfg.LLM)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("LLM.Timeout = %v, want 5s", cfg.LLM.Timeout)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/tmp/usage.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	isolate(t)
	t.Setenv("POSTGEN_LLM__PROVIDER", "llama")

	if _, err := config.Load(); err == nil {
		t.Fatal("Load() error = nil, want unsupported provider error")
	}
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	isolate(t)
	t.Setenv("POSTGEN_STORE__DRIVER", "postgres")

	if _, err := config.Load(); err == nil {
		t.Fatal("Load() error = nil, want missing store.url error")
	}

	t.Setenv("POSTGEN_STORE__URL", "postgres://localhost/postgen")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.URL != "postgres://localhost/postgen" {
		t.Errorf("Store.URL = %q", cfg.Store.URL)
	}
}
