package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"brandpost-backend/internal/shared/auth"
	"brandpost-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	defer telemetry.SetOutput(os.Stdout)

	signer, _ := auth.NewSigner("s", "dev")
	router := gin.New()
	router.Use(RequestID(), Auth(signer), Logging())
	router.POST("/api/v1/sessions/:id/feedback", func(c *gin.Context) {
		c.Set(SessionIDKey, c.Param("id"))
		c.Set(StageKey, "refine")
		c.Set(TransitionKey, "awaiting_feedback->awaiting_feedback")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/feedback", nil)
	req.Header.Set("X-Guest-Id", "guest1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("expected log output")
	}
	last := lines[len(lines)-1]
	var payload map[string]any
	if err := json.Unmarshal([]byte(last), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}

	required := []string{"request_id", "user_id", "session_id", "stage", "duration_ms", "status", "state_transition"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["user_id"] != "guest:guest1" {
		t.Fatalf("unexpected user_id: %v", payload["user_id"])
	}
	if payload["session_id"] != "s-1" {
		t.Fatalf("unexpected session_id: %v", payload["session_id"])
	}
	if payload["stage"] != "refine" {
		t.Fatalf("unexpected stage: %v", payload["stage"])
	}
}
