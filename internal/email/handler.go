package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/joao-fontenele/virtual-store/internal/idgen"
)

// Handler is the outbound mail relay. It accepts fully rendered messages and
// hands them to the log sink; there is no SMTP delivery.
type Handler struct {
	ids    idgen.Generator
	logger *slog.Logger
}

func NewHandler(ids idgen.Generator, logger *slog.Logger) *Handler {
	return &Handler{
		ids:    ids,
		logger: logger,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := mail.ParseAddress(req.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	id := h.ids.NewID()
	h.logger.Info("email sent", "message_id", id, "to", req.To, "subject", req.Subject, "body_bytes", len(req.Body))

	h.writeJSON(w, http.StatusOK, sendResponse{ID: id, Status: "sent"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
