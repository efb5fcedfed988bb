package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseIntentStatus string

const (
	PurchaseIntentStatusOpen      PurchaseIntentStatus = "open"
	PurchaseIntentStatusCompleted PurchaseIntentStatus = "completed"
	PurchaseIntentStatusFailed    PurchaseIntentStatus = "failed"
)

type IntentProduct struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Quantity int             `json:"quantity"`
}

// PurchaseIntent freezes the priced content of a cart at checkout time. The
// product snapshot is never rewritten after it has been saved; only Status and
// UpdatedAt change.
type PurchaseIntent struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	OrderCode string               `json:"order_code"`
	Status    PurchaseIntentStatus `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Products  []IntentProduct      `json:"products"`
}

func (p *PurchaseIntent) Total() decimal.Decimal {
	total := decimal.Zero
	for _, product := range p.Products {
		total = total.Add(product.Amount.Mul(decimal.NewFromInt(int64(product.Quantity))))
	}
	return total
}

const orderCodeLength = 12

// OrderCodeFor derives the human-facing order code from a purchase intent id,
// so every order created for the same intent carries the same code.
func OrderCodeFor(purchaseIntentID string) string {
	code := strings.ToUpper(strings.ReplaceAll(purchaseIntentID, "-", ""))
	if len(code) > orderCodeLength {
		code = code[:orderCodeLength]
	}
	return code
}

// NewPurchaseIntent snapshots a complete cart.
func NewPurchaseIntent(id string, cart *CompleteCart, now time.Time) *PurchaseIntent {
	products := make([]IntentProduct, len(cart.Items))
	for i, item := range cart.Items {
		products[i] = IntentProduct{
			ID:       item.ProductID,
			Name:     item.Name,
			Amount:   item.Amount,
			Quantity: item.Quantity,
		}
	}

	return &PurchaseIntent{
		ID:        id,
		UserID:    cart.UserID,
		OrderCode: OrderCodeFor(id),
		Status:    PurchaseIntentStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Products:  products,
	}
}
