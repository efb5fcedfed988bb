package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
)

var ErrDuplicatePurchaseIntent = errors.New("order already exists for purchase intent")

const uniqueViolation = "23505"

type Repository interface {
	Add(ctx context.Context, order *domain.Order) error
	LoadByID(ctx context.Context, id string) (*domain.Order, error)
	LoadByPurchaseIntentID(ctx context.Context, purchaseIntentID string) (*domain.Order, error)
	UpdateByID(ctx context.Context, id string, delta domain.OrderDelta) (*domain.Order, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.Order, error)
}

type PostgresRepository struct {
	db  *sql.DB
	ids idgen.Generator
}

// NewPostgresRepository takes ids to key order line items.
func NewPostgresRepository(db *sql.DB, ids idgen.Generator) *PostgresRepository {
	return &PostgresRepository{db: db, ids: ids}
}

// Add inserts the order and its line items in one transaction. A second order
// for the same purchase intent fails with ErrDuplicatePurchaseIntent.
func (r *PostgresRepository) Add(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, purchase_intent_id, order_code, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.UserID, order.PurchaseIntentID, order.OrderCode, order.Status, order.PaymentStatus, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicatePurchaseIntent
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, product := range order.Products {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, name, amount, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.ids.NewID(), order.ID, i, product.ID, product.Name, product.Amount, product.Quantity)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// LoadByID returns nil when the order does not exist.
func (r *PostgresRepository) LoadByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.loadOne(ctx, "id", id)
}

// LoadByPurchaseIntentID returns nil when no order was created for the intent.
func (r *PostgresRepository) LoadByPurchaseIntentID(ctx context.Context, purchaseIntentID string) (*domain.Order, error) {
	return r.loadOne(ctx, "purchase_intent_id", purchaseIntentID)
}

// UpdateByID writes only the fields set in delta plus updated_at, and returns
// the updated order or nil when id is unknown.
func (r *PostgresRepository) UpdateByID(ctx context.Context, id string, delta domain.OrderDelta) (*domain.Order, error) {
	sets := []string{"updated_at = $1"}
	args := []any{delta.UpdatedAt}

	if delta.Status != nil {
		args = append(args, *delta.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if delta.PaymentStatus != nil {
		args = append(args, *delta.PaymentStatus)
		sets = append(sets, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, nil
	}

	return r.LoadByID(ctx, id)
}

func (r *PostgresRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, purchase_intent_id, order_code, status, payment_status, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, err
		}
		order.Products = []domain.IntentProduct{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, amount, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var product domain.IntentProduct
		if err := itemRows.Scan(&orderID, &product.ID, &product.Name, &product.Amount, &product.Quantity); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Products = append(order.Products, product)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *PostgresRepository) loadOne(ctx context.Context, column, value string) (*domain.Order, error) {
	order := &domain.Order{}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, purchase_intent_id, order_code, status, payment_status, created_at, updated_at
		FROM orders
		WHERE `+column+` = $1
	`, value)
	if err := scanOrder(row, order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, amount, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var product domain.IntentProduct
		if err := rows.Scan(&product.ID, &product.Name, &product.Amount, &product.Quantity); err != nil {
			return nil, err
		}
		order.Products = append(order.Products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner, order *domain.Order) error {
	return s.Scan(
		&order.ID,
		&order.UserID,
		&order.PurchaseIntentID,
		&order.OrderCode,
		&order.Status,
		&order.PaymentStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
}
