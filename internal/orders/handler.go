package orders

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

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrOrderNotFound) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user := users.FromContext(r.Context())
	if user == nil || (user.ID != order.UserID && user.Role != domain.RoleAdmin) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.service.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders), "user_id", user.ID)
	h.writeJSON(w, http.StatusOK, orders)
}

type updateRequest struct {
	Status        *domain.OrderStatus   `json:"status"`
	PaymentStatus *domain.PaymentStatus `json:"payment_status"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == nil && req.PaymentStatus == nil {
		h.writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if req.PaymentStatus != nil && !req.PaymentStatus.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid payment status")
		return
	}

	order, err := h.service.Update(r.Context(), id, domain.OrderDelta{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
	})
	if errors.Is(err, ErrOrderNotFound) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to update order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order updated", "order_id", order.ID, "status", order.Status, "payment_status", order.PaymentStatus)
	h.writeJSON(w, http.StatusOK, order)
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
