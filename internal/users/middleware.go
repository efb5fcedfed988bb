package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

const AccessTokenHeader = "X-Access-Token"

type contextKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the user placed in ctx by Middleware, or nil.
func FromContext(ctx context.Context) *domain.User {
	user, _ := ctx.Value(contextKey{}).(*domain.User)
	return user
}

// Middleware rejects requests that do not carry a token granting role.
func Middleware(access *AccessControl, role domain.Role, logger *slog.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(AccessTokenHeader)
			if token == "" {
				writeError(w, logger, http.StatusUnauthorized, "access token not informed")
				return
			}

			user, err := access.Authorize(r.Context(), token, role)
			switch {
			case errors.Is(err, ErrInvalidToken):
				writeError(w, logger, http.StatusUnauthorized, err.Error())
				return
			case errors.Is(err, ErrAccessDenied):
				writeError(w, logger, http.StatusForbidden, err.Error())
				return
			case err != nil:
				logger.Error("failed to authorize request", "error", err, "path", r.URL.Path)
				writeError(w, logger, http.StatusInternalServerError, "internal server error")
				return
			}

			next(w, r.WithContext(WithUser(r.Context(), user)))
		}
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logger.Error("failed to encode error response", "error", err)
	}
}
