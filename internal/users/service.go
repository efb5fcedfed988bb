package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
	maxNameLength     = 100
)

// Account is a user together with the stored password hash.
type Account struct {
	domain.User
	PasswordHash string
}

type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type AccountStore interface {
	LoadByEmail(ctx context.Context, email string) (*Account, error)
	Add(ctx context.Context, account *Account, accessToken string) error
	UpdateAccessToken(ctx context.Context, userID, accessToken string) error
}

type SignUpInput struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}

type Service struct {
	store    AccountStore
	ids      idgen.Generator
	hashCost int
	logger   *slog.Logger
}

type ServiceOption func(*Service)

func WithHashCost(cost int) ServiceOption {
	return func(s *Service) {
		s.hashCost = cost
	}
}

func NewService(store AccountStore, ids idgen.Generator, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		ids:      ids,
		hashCost: bcrypt.DefaultCost,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp registers a customer and returns their first access token.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLength {
		return "", &InvalidFieldError{Field: "name", Reason: fmt.Sprintf("must have 1 to %d characters", maxNameLength)}
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return "", err
	}
	if len(in.Password) < minPasswordLength || len(in.Password) > maxPasswordLength {
		return "", &InvalidFieldError{Field: "password", Reason: fmt.Sprintf("must have %d to %d characters", minPasswordLength, maxPasswordLength)}
	}
	if in.Password != in.PasswordConfirmation {
		return "", &InvalidFieldError{Field: "password_confirmation", Reason: "does not match password"}
	}

	existing, err := s.store.LoadByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("load user by email: %w", err)
	}
	if existing != nil {
		return "", domain.ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	account := &Account{
		User: domain.User{
			ID:    s.ids.NewID(),
			Name:  name,
			Email: email,
			Role:  domain.RoleUser,
		},
		PasswordHash: string(hash),
	}
	token := s.ids.NewID()
	if err := s.store.Add(ctx, account, token); err != nil {
		return "", err
	}

	s.logger.Info("user signed up", "user_id", account.ID)
	return token, nil
}

// Login checks the credentials and rotates the user's access token, so any
// token issued before stops working.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	account, err := s.store.LoadByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("load user by email: %w", err)
	}
	if account == nil {
		return "", domain.ErrInvalidCredentials
	}

	err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
			return "", domain.ErrInvalidCredentials
		}
		return "", fmt.Errorf("compare password: %w", err)
	}

	token := s.ids.NewID()
	if err := s.store.UpdateAccessToken(ctx, account.ID, token); err != nil {
		return "", fmt.Errorf("rotate access token: %w", err)
	}

	s.logger.Info("user logged in", "user_id", account.ID)
	return token, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", &InvalidFieldError{Field: "email", Reason: "must be a plain email address"}
	}
	return strings.ToLower(addr.Address), nil
}
