package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func requestBodySummary(t *testing.T, body string) string {
	t.Helper()

	app := fiber.New()
	var summary string
	app.Post("/", func(c *fiber.Ctx) error {
		summary = GetRequestBodySummary(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	return summary
}

func TestGetRequestBodySummary(t *testing.T) {
	t.Run("masks every password-like key", func(t *testing.T) {
		summary := requestBodySummary(t, `{"oldPassword":"S3cretOld","newPassword":"n3w","passwordConfirm":"n3w","username":"ann"}`)
		for _, secret := range []string{"S3cretOld", "n3w"} {
			if strings.Contains(summary, secret) {
				t.Fatalf("expected %q to be redacted, got %s", secret, summary)
			}
		}
		if !strings.Contains(summary, `"username":"ann"`) {
			t.Fatalf("expected non-sensitive fields to be kept, got %s", summary)
		}
	})

	t.Run("masks nested keys", func(t *testing.T) {
		summary := requestBodySummary(t, `{"user":{"Password":"hunter2"},"items":[{"apiToken":"abc123"}]}`)
		if strings.Contains(summary, "hunter2") || strings.Contains(summary, "abc123") {
			t.Fatalf("expected nested secrets to be redacted, got %s", summary)
		}
	})

	t.Run("empty and binary bodies", func(t *testing.T) {
		if got := requestBodySummary(t, ""); got != "empty" {
			t.Fatalf("got %q, want empty", got)
		}
		if got := requestBodySummary(t, "not json"); got != "binary (8 bytes)" {
			t.Fatalf("got %q, want binary (8 bytes)", got)
		}
	})
}

func TestLoggerWritesJSONEntries(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(Init)

	ErrorWithUser(7, "lead_update_failed", errors.New("boom"), map[string]interface{}{"lead_id": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed decoding log line %q: %v", buf.String(), err)
	}
	if entry["action"] != "lead_update_failed" || entry["level"] != "error" || entry["error"] != "boom" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry["user_id"] != float64(7) {
		t.Fatalf("expected user_id 7, got %+v", entry["user_id"])
	}
}
