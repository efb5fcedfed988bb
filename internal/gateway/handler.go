package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// returnedHeaders are copied from the upstream response back to the client.
var returnedHeaders = []string{
	"Content-Type",
	"Location",
	"Retry-After",
}

type Handler struct {
	storeProxy    *ServiceProxy
	paymentsProxy *ServiceProxy
	logger        *slog.Logger
}

func NewHandler(storeProxy, paymentsProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		storeProxy:    storeProxy,
		paymentsProxy: paymentsProxy,
		logger:        logger,
	}
}

// HandleStore forwards catalog, cart, checkout and order routes.
func (h *Handler) HandleStore(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.storeProxy, r.URL.Path)
}

// HandlePayments forwards gateway webhooks to the payments service.
func (h *Handler) HandlePayments(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.paymentsProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	start := time.Now()
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range returnedHeaders {
		if value := resp.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied",
		"method", r.Method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
