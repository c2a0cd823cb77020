package bootstrap

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"brandpost-backend/internal/shared/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Port:            "0",
		Env:             "dev",
		LLMProvider:     "mock",
		ImageProvider:   "placeholder",
		SessionStore:    "memory",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		RefineMaxIters:  3,
	}
}

func TestBuildServesHealthAndSessions(t *testing.T) {
	app, err := Build(testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if app.DB != nil {
		t.Fatalf("expected no database without DATABASE_URL")
	}
	if len(app.Catalog.QuickActionList()) == 0 {
		t.Fatalf("expected default catalog quick actions")
	}

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("X-Guest-Id", "bootstrap-test")
	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] == nil || body["id"] == "" {
		t.Fatalf("expected session id in %v", body)
	}
}

func TestBuildRejectsProductionWithoutSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without JWT_SECRET in production")
	}
}

func TestBuildRequiresBucketForS3(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStoreType = "s3"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error for s3 store without bucket")
	}
}

func TestBuildRejectsOpenAIWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImageProvider = "openai"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error for image provider without api key")
	}
}

func TestIsDevLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env  string
		want bool
	}{
		{"dev", true},
		{"LOCAL", true},
		{"staging", false},
		{"production", false},
	}
	for _, tt := range tests {
		if got := isDevLike(tt.env); got != tt.want {
			t.Fatalf("isDevLike(%q)=%v want %v", tt.env, got, tt.want)
		}
	}
}
