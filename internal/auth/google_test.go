package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	sharedauth "brandpost-backend/internal/shared/auth"
)

func TestStateStoreConsumeOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newStateStore(func() time.Time { return now })

	store.put("a", time.Minute)
	if !store.consume("a") {
		t.Fatalf("expected fresh state to be accepted")
	}
	if store.consume("a") {
		t.Fatalf("state must not be reusable")
	}

	store.put("b", time.Minute)
	now = now.Add(2 * time.Minute)
	if store.consume("b") {
		t.Fatalf("expired state must be rejected")
	}
	if store.consume("never-issued") {
		t.Fatalf("unknown state must be rejected")
	}
}

func TestAppendToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: "http://localhost:5173/auth", want: "http://localhost:5173/auth?token=abc"},
		{name: "existing query", raw: "https://app.example.com/cb?next=%2Fstudio", want: "https://app.example.com/cb?next=%2Fstudio&token=abc"},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := appendToken(tt.raw, "abc")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("appendToken: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartRequiresConfiguration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewGoogleService(GoogleConfig{}, nil).RegisterRoutes(router.Group("/api/v1"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/start", nil))
	if resp.Code != http.StatusInternalServerError || !strings.Contains(resp.Body.String(), "auth_not_configured") {
		t.Fatalf("expected auth_not_configured, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestCallbackIssuesToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer at" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":"42","email":"a@b.co","name":"Ada"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer provider.Close()

	signer, err := sharedauth.NewSigner("test-secret", "dev")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	svc := NewGoogleService(GoogleConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/api/v1/auth/google/callback",
		UIRedirect:   "http://localhost:5173/auth",
	}, signer)
	svc.oauthConfig.Endpoint = oauth2.Endpoint{AuthURL: provider.URL + "/auth", TokenURL: provider.URL + "/token"}
	svc.userInfoURL = provider.URL + "/userinfo"

	router := gin.New()
	svc.RegisterRoutes(router.Group("/api/v1"))

	start := httptest.NewRecorder()
	router.ServeHTTP(start, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/start", nil))
	if start.Code != http.StatusFound {
		t.Fatalf("start: expected 302, got %d", start.Code)
	}
	authURL, err := url.Parse(start.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := authURL.Query().Get("state")

	cb := httptest.NewRecorder()
	router.ServeHTTP(cb, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?code=c&state="+state, nil))
	if cb.Code != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d %s", cb.Code, cb.Body.String())
	}
	redirect, err := url.Parse(cb.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	claims, err := signer.Verify(redirect.Query().Get("token"))
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.Subject != "google:42" || claims.Email != "a@b.co" || claims.Name != "Ada" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	replay := httptest.NewRecorder()
	router.ServeHTTP(replay, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?code=c&state="+state, nil))
	if replay.Code != http.StatusBadRequest {
		t.Fatalf("replayed state: expected 400, got %d", replay.Code)
	}
}
