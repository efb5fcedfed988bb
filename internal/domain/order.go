package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPaid || s == PaymentStatusRefunded
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	PurchaseIntentID string          `json:"purchase_intent_id"`
	OrderCode        string          `json:"order_code"`
	Products         []IntentProduct `json:"products"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, product := range o.Products {
		total = total.Add(product.Amount.Mul(decimal.NewFromInt(int64(product.Quantity))))
	}
	return total
}

// OrderDelta is a partial update. Nil fields are left untouched; UpdatedAt is
// always written.
type OrderDelta struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	UpdatedAt     time.Time
}
