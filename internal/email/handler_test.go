package email

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fixedID string

func (f fixedID) NewID() string { return string(f) }

func TestHandleSend(t *testing.T) {
	h := NewHandler(fixedID("msg-1"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid message", `{"to":"ada@example.com","subject":"Order Confirmation: X","body":"hi"}`, http.StatusOK},
		{"named recipient", `{"to":"Ada <ada@example.com>","subject":"Hello"}`, http.StatusOK},
		{"invalid json", `{`, http.StatusBadRequest},
		{"bad recipient", `{"to":"not-an-address","subject":"Hello"}`, http.StatusBadRequest},
		{"missing subject", `{"to":"ada@example.com","subject":"  "}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.HandleSend(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp sendResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.ID != "msg-1" || resp.Status != "sent" {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}
