package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

const (
	uniqueViolation = "23505"
	emailConstraint = "users_email_key"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LoadByID returns nil when no user has the given id.
func (r *Repository) LoadByID(ctx context.Context, id string) (*domain.User, error) {
	return r.loadOne(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE id = $1
	`, id)
}

// LoadByAccessToken returns nil when the token is not assigned to any user.
func (r *Repository) LoadByAccessToken(ctx context.Context, token string) (*domain.User, error) {
	return r.loadOne(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE access_token = $1
	`, token)
}

// LoadByEmail returns nil when no user has the given email.
func (r *Repository) LoadByEmail(ctx context.Context, email string) (*Account, error) {
	account := &Account{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, password_hash
		FROM users
		WHERE email = $1
	`, email).Scan(&account.ID, &account.Name, &account.Email, &account.Role, &account.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return account, nil
}

// Add fails with domain.ErrEmailInUse when another user has the email.
func (r *Repository) Add(ctx context.Context, account *Account, accessToken string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, password_hash, access_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, account.ID, account.Name, account.Email, account.Role, account.PasswordHash, accessToken)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == emailConstraint {
			return domain.ErrEmailInUse
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) UpdateAccessToken(ctx context.Context, userID, accessToken string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET access_token = $1 WHERE id = $2`, accessToken, userID)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *Repository) loadOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Name, &user.Email, &user.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}
