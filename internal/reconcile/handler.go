package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/payment"
)

const maxPayloadBytes = 64 << 10

// Handler receives gateway webhooks and passes them to submit, which either
// reconciles inline or enqueues.
type Handler struct {
	submit func(ctx context.Context, event domain.TransactionEvent) error
	logger *slog.Logger
}

func NewHandler(submit func(ctx context.Context, event domain.TransactionEvent) error, logger *slog.Logger) *Handler {
	return &Handler{
		submit: submit,
		logger: logger,
	}
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(payload) > maxPayloadBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event := domain.TransactionEvent{
		Signature: r.Header.Get(payment.SignatureHeader),
		Payload:   payload,
	}

	if err := h.submit(r.Context(), event); err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to handle payment webhook", "error", err)
		}
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrGatewayIncompatibility):
		return http.StatusBadRequest, "event failed verification"
	case errors.Is(err, domain.ErrEventNotProcessed), errors.Is(err, domain.ErrIntentOwnerMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrPurchaseIntentNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
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
