package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrAccessDenied = errors.New("access denied")
)

type TokenLoader interface {
	LoadByAccessToken(ctx context.Context, token string) (*domain.User, error)
}

// AccessControl resolves an access token to a user and enforces the role the
// route requires. Admins may use every route; plain users only RoleUser ones.
type AccessControl struct {
	users TokenLoader
}

func NewAccessControl(users TokenLoader) *AccessControl {
	return &AccessControl{users: users}
}

func (a *AccessControl) Authorize(ctx context.Context, token string, role domain.Role) (*domain.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	user, err := a.users.LoadByAccessToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load user by token: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	if role == domain.RoleAdmin && user.Role != domain.RoleAdmin {
		return nil, ErrAccessDenied
	}

	return user, nil
}
