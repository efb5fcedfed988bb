package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxItemQuantity bounds the quantity of a single cart line. Order lines are
// stored in a 32-bit column.
const MaxItemQuantity = math.MaxInt32

type CartItem struct {
	ProductID string `json:"product_id" bson:"product_id"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

// Cart is the mutable per-user list of desired products. Version is bumped on
// every write and used as a compare-and-swap token by the cart store.
type Cart struct {
	ID       string     `json:"id" bson:"_id"`
	UserID   string     `json:"user_id" bson:"user_id"`
	Products []CartItem `json:"products" bson:"products"`
	Version  int64      `json:"version" bson:"version"`
}

// Item returns the line item for productID, if present.
func (c *Cart) Item(productID string) (CartItem, bool) {
	for _, item := range c.Products {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) ProductIDs() []string {
	ids := make([]string, len(c.Products))
	for i, item := range c.Products {
		ids[i] = item.ProductID
	}
	return ids
}

// Without returns the cart lines left once the purchased products are taken
// out. Lines added after the purchase, or quantities beyond what was bought,
// are kept.
func (c *Cart) Without(purchased []IntentProduct) []CartItem {
	bought := make(map[string]int, len(purchased))
	for _, p := range purchased {
		bought[p.ID] += p.Quantity
	}

	remaining := make([]CartItem, 0, len(c.Products))
	for _, item := range c.Products {
		if left := item.Quantity - bought[item.ProductID]; left > 0 {
			remaining = append(remaining, CartItem{ProductID: item.ProductID, Quantity: left})
		}
	}
	return remaining
}

type CompleteCartItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Quantity  int             `json:"quantity"`
}

// Subtotal is amount × quantity.
func (i CompleteCartItem) Subtotal() decimal.Decimal {
	return i.Amount.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CompleteCart is a priced snapshot of a cart. It is computed on demand and
// never persisted.
type CompleteCart struct {
	ID     string             `json:"id"`
	UserID string             `json:"user_id"`
	Items  []CompleteCartItem `json:"items"`
}

func (c *CompleteCart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}
