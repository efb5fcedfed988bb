package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/users"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type checkoutResponse struct {
	SessionURL string `json:"session_url"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	session, err := h.service.Checkout(r.Context(), user.ID)
	if err != nil {
		status, message := h.statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("checkout failed", "error", err, "user_id", user.ID)
		}
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutResponse{SessionURL: session.URL})
}

func (h *Handler) statusFor(err error) (int, string) {
	var notAvailable *domain.ProductNotAvailableError
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &notAvailable):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrCheckoutFailure):
		return http.StatusBadGateway, err.Error()
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
