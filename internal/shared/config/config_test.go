package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"ENV", "LLM_PROVIDER", "REFINE_MAX_ITERATIONS", "SESSION_STORE", "DUPLICATE_THRESHOLD", "GENERATION_RETRY_BACKOFF"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.LLMProvider != "mock" {
		t.Fatalf("expected mock provider, got %q", cfg.LLMProvider)
	}
	if cfg.RefineMaxIters != 10 {
		t.Fatalf("expected default max iterations 10, got %d", cfg.RefineMaxIters)
	}
	if cfg.SessionStore != "memory" {
		t.Fatalf("expected memory session store, got %q", cfg.SessionStore)
	}
	if cfg.DuplicateSimilar != 0.8 {
		t.Fatalf("expected duplicate threshold 0.8, got %v", cfg.DuplicateSimilar)
	}
	if cfg.RetryBackoff != 300*time.Millisecond {
		t.Fatalf("unexpected retry backoff %s", cfg.RetryBackoff)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("REFINE_MAX_ITERATIONS", "4")
	t.Setenv("SESSION_STORE", "pg")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("BRAND_FALLBACK_DEFAULT", "false")
	t.Setenv("REFINE_MAX_ITERATIONS_BAD", "x")

	cfg := Load()
	if cfg.Env != "production" {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected openai, got %q", cfg.LLMProvider)
	}
	if cfg.RefineMaxIters != 4 {
		t.Fatalf("expected 4, got %d", cfg.RefineMaxIters)
	}
	if cfg.SessionStore != "postgres" {
		t.Fatalf("expected postgres, got %q", cfg.SessionStore)
	}
	if cfg.BrandFallback {
		t.Fatalf("expected brand fallback disabled")
	}
}

func TestParseEnvLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		key    string
		val    string
		wantOK bool
	}{
		{line: "# comment", wantOK: false},
		{line: "", wantOK: false},
		{line: "PORT=9090", key: "PORT", val: "9090", wantOK: true},
		{line: `export OPENAI_API_KEY="sk-test"`, key: "OPENAI_API_KEY", val: "sk-test", wantOK: true},
		{line: "NAME='quoted value'", key: "NAME", val: "quoted value", wantOK: true},
		{line: "NOEQUALS", wantOK: false},
		{line: "=value", wantOK: false},
	}

	for _, tt := range tests {
		key, val, ok := parseEnvLine(tt.line)
		if ok != tt.wantOK {
			t.Fatalf("parseEnvLine(%q) ok=%v, want %v", tt.line, ok, tt.wantOK)
		}
		if !ok {
			continue
		}
		if key != tt.key || val != tt.val {
			t.Fatalf("parseEnvLine(%q) = %q,%q want %q,%q", tt.line, key, val, tt.key, tt.val)
		}
	}
}
