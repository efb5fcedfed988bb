package cart

import (
	"context"
	"errors"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

// ErrConflict means the stored cart changed between load and write. The
// caller is expected to reload and decide again.
var ErrConflict = errors.New("cart was modified concurrently")

type Catalog interface {
	LoadByID(ctx context.Context, id string) (*domain.Product, error)
	LoadManyByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
}

// Store persists carts. Writes taking a version only apply when the stored
// cart still has that version, and bump it on success.
type Store interface {
	LoadByUserID(ctx context.Context, userID string) (*domain.Cart, error)
	Create(ctx context.Context, cart *domain.Cart) error
	AppendProduct(ctx context.Context, cartID string, version int64, item domain.CartItem) error
	UpdateQuantity(ctx context.Context, cartID string, version int64, productID string, quantity int) error
	ReplaceProducts(ctx context.Context, cartID string, version int64, products []domain.CartItem) error
}
