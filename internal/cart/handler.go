package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

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

type addProductRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	ID     string                    `json:"id,omitempty"`
	UserID string                    `json:"user_id"`
	Items  []domain.CompleteCartItem `json:"items"`
	Total  decimal.Decimal           `json:"total"`
}

func (h *Handler) HandleAddProduct(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req addProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	err := h.service.AddProduct(r.Context(), user.ID, req.ProductID, req.Quantity)
	var notFound *domain.ProductNotFoundError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidProductQuantity), errors.As(err, &notFound):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrConflict):
		h.writeError(w, http.StatusConflict, "cart is busy, try again")
		return
	default:
		h.logger.Error("failed to add product to cart", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("product added to cart", "user_id", user.ID, "product_id", req.ProductID, "quantity", req.Quantity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	complete, err := h.service.LoadComplete(r.Context(), user.ID)
	var notAvailable *domain.ProductNotAvailableError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEmptyCart):
		h.writeJSON(w, http.StatusOK, cartResponse{
			UserID: user.ID,
			Items:  []domain.CompleteCartItem{},
			Total:  decimal.Zero,
		})
		return
	case errors.As(err, &notAvailable):
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		h.logger.Error("failed to load cart", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{
		ID:     complete.ID,
		UserID: complete.UserID,
		Items:  complete.Items,
		Total:  complete.Total(),
	})
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
