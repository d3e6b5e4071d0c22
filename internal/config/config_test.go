package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "OPENAI_API_KEY", "AI_MODEL", "CLUPPO_STORE_URL", "REDIS_URL", "CLUPPO_RATE_LIMIT", "AI_TEMPERATURE_TENTHS"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.Addr != ":3001" {
		t.Errorf("expected :3001, got %s", cfg.Addr)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model %s", cfg.Model)
	}
	if cfg.Temperature != 0.6 || cfg.MaxTokens != 280 {
		t.Errorf("unexpected sampling %v/%d", cfg.Temperature, cfg.MaxTokens)
	}
	if cfg.RateLimit != 20 || cfg.RateWindow != 60*time.Second {
		t.Errorf("unexpected rate limit %d/%s", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.OpenAIKey != "" || cfg.StoreKind() != StoreNone {
		t.Errorf("expected no key and no store, got %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CLUPPO_STORE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("CLUPPO_RATE_LIMIT", "not-a-number")
	t.Setenv("AI_TIMEOUT_SECONDS", "5")

	cfg := FromEnv()
	if cfg.StoreURL != "redis://localhost:6379/1" {
		t.Errorf("expected REDIS_URL alias, got %s", cfg.StoreURL)
	}
	if cfg.RateLimit != 20 {
		t.Errorf("expected fallback for bad int, got %d", cfg.RateLimit)
	}
	if cfg.AITimeout != 5*time.Second {
		t.Errorf("unexpected timeout %s", cfg.AITimeout)
	}
}

func TestStoreKind(t *testing.T) {
	tests := map[string]StoreKind{
		"":                              StoreNone,
		"redis://localhost:6379":        StoreRedis,
		"rediss://cache.example:6380/0": StoreRedis,
		"postgres://u:p@db/cluppo":      StorePostgres,
		"PostgreSQL://u:p@db/cluppo":    StorePostgres,
		"mysql://nope":                  StoreNone,
	}
	for url, want := range tests {
		if got := (Config{StoreURL: url}).StoreKind(); got != want {
			t.Errorf("%q: expected %q, got %q", url, want, got)
		}
	}
}

func TestLoadFileReadsDotEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	t.Setenv("AI_MODEL", "from-process")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OPENAI_API_KEY=sk-from-file\nAI_MODEL=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })

	cfg := LoadFile(path)
	if cfg.OpenAIKey != "sk-from-file" {
		t.Errorf("expected key from .env, got %q", cfg.OpenAIKey)
	}
	if cfg.Model != "from-process" {
		t.Errorf("process env must win over .env, got %q", cfg.Model)
	}
}
