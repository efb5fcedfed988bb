package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderCreatedEvent struct {
	OrderID          string          `json:"order_id"`
	OrderCode        string          `json:"order_code"`
	UserID           string          `json:"user_id"`
	PurchaseIntentID string          `json:"purchase_intent_id"`
	Products         []IntentProduct `json:"products"`
	Total            decimal.Decimal `json:"total"`
	Timestamp        time.Time       `json:"timestamp"`
}

// TransactionEvent is one raw gateway callback, exactly as delivered.
type TransactionEvent struct {
	Signature string `json:"signature"`
	Payload   []byte `json:"payload"`
}

type PaymentEventType string

const (
	PaymentSuccess PaymentEventType = "PaymentSuccess"
	PaymentFailure PaymentEventType = "PaymentFailure"
)

// PaymentEvent is a verified callback mapped onto the store's vocabulary.
// Type is empty when the gateway event kind has no mapping.
type PaymentEvent struct {
	ID               string
	GatewayType      string
	Type             PaymentEventType
	PurchaseIntentID string
	UserID           string
}
