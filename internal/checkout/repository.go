package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

// IntentRepository stores purchase intents in Postgres. The product snapshot
// lives in a JSONB column and is written once.
type IntentRepository struct {
	db *sql.DB
}

func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

func (r *IntentRepository) Save(ctx context.Context, intent *domain.PurchaseIntent) error {
	products, err := json.Marshal(intent.Products)
	if err != nil {
		return fmt.Errorf("marshal intent products: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO purchase_intents (id, user_id, order_code, status, products, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, intent.ID, intent.UserID, intent.OrderCode, intent.Status, products, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert purchase intent: %w", err)
	}

	return nil
}

// LoadByID returns nil when the intent does not exist.
func (r *IntentRepository) LoadByID(ctx context.Context, id string) (*domain.PurchaseIntent, error) {
	intent := &domain.PurchaseIntent{}
	var products []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, order_code, status, products, created_at, updated_at
		FROM purchase_intents
		WHERE id = $1
	`, id).Scan(&intent.ID, &intent.UserID, &intent.OrderCode, &intent.Status, &products, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(products, &intent.Products); err != nil {
		return nil, fmt.Errorf("unmarshal intent products: %w", err)
	}

	return intent, nil
}

// MarkStatus sets the intent status and reports whether the stored status
// changed. A completed intent is final, so a late failure callback cannot undo
// a reconciled purchase.
func (r *IntentRepository) MarkStatus(ctx context.Context, id string, status domain.PurchaseIntentStatus, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE purchase_intents SET status = $1, updated_at = $2
		WHERE id = $3 AND status <> $4 AND status <> $1
	`, status, at, id, domain.PurchaseIntentStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("update purchase intent status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM purchase_intents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrPurchaseIntentNotFound
		}
	}

	return rowsAffected > 0, nil
}
