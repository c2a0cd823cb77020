package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"brandpost-backend/internal/shared/auth"
)

func newAuthRouter(t *testing.T, signer *auth.Signer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(signer))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserIDFromContext(c), "guest": IsGuest(c), "email": UserEmailFromContext(c)})
	}
	router.GET("/api/v1/sessions/:id", handler)
	router.GET("/api/v1/health", handler)
	router.OPTIONS("/api/v1/sessions/:id", handler)
	return router
}

func TestAuthAllowsOptionsWithoutIdentity(t *testing.T) {
	signer, _ := auth.NewSigner("s", "dev")
	router := newAuthRouter(t, signer)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions/abc", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAuthIdentities(t *testing.T) {
	signer, _ := auth.NewSigner("s", "dev")
	token, err := signer.Sign("google:42", auth.Claims{Email: "x@example.com"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name       string
		path       string
		headers    map[string]string
		wantStatus int
		wantUser   string
	}{
		{name: "bearer token", path: "/api/v1/sessions/a", headers: map[string]string{"Authorization": "Bearer " + token}, wantStatus: http.StatusOK, wantUser: "google:42"},
		{name: "guest header", path: "/api/v1/sessions/a", headers: map[string]string{"X-Guest-Id": "g1"}, wantStatus: http.StatusOK, wantUser: "guest:g1"},
		{name: "bad scheme", path: "/api/v1/sessions/a", headers: map[string]string{"Authorization": "Basic abc"}, wantStatus: http.StatusUnauthorized},
		{name: "bad token", path: "/api/v1/sessions/a", headers: map[string]string{"Authorization": "Bearer nope"}, wantStatus: http.StatusUnauthorized},
		{name: "no identity", path: "/api/v1/sessions/a", wantStatus: http.StatusUnauthorized},
		{name: "public path", path: "/api/v1/health", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			router := newAuthRouter(t, signer)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, resp.Code, resp.Body.String())
			}
			if tt.wantUser != "" && !strings.Contains(resp.Body.String(), `"userId":"`+tt.wantUser+`"`) {
				t.Fatalf("expected user %q in %s", tt.wantUser, resp.Body.String())
			}
		})
	}
}
