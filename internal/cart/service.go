package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
)

const defaultMaxAttempts = 5

type Service struct {
	store       Store
	catalog     Catalog
	ids         idgen.Generator
	cache       Cache
	loads       singleflight.Group
	maxAttempts int
	logger      *slog.Logger
}

type ServiceOption func(*Service)

func WithCache(cache Cache) ServiceOption {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithMaxAttempts bounds how many times AddProduct re-runs after losing a
// write race.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(store Store, catalog Catalog, ids idgen.Generator, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		catalog:     catalog,
		ids:         ids,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddProduct merges quantity units of productID into the user's cart,
// creating the cart on first use.
func (s *Service) AddProduct(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidProductQuantity
	}

	product, err := s.catalog.LoadByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return &domain.ProductNotFoundError{ProductID: productID}
	}

	for attempt := 1; ; attempt++ {
		err = s.addOnce(ctx, userID, productID, quantity)
		if !errors.Is(err, ErrConflict) || attempt >= s.maxAttempts {
			break
		}
		s.logger.Warn("cart write conflict, retrying", "user_id", userID, "attempt", attempt)
	}
	if err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) addOnce(ctx context.Context, userID, productID string, quantity int) error {
	cart, err := s.store.LoadByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	if cart == nil {
		return s.store.Create(ctx, &domain.Cart{
			ID:       s.ids.NewID(),
			UserID:   userID,
			Products: []domain.CartItem{{ProductID: productID, Quantity: quantity}},
		})
	}

	if item, ok := cart.Item(productID); ok {
		if item.Quantity > domain.MaxItemQuantity-quantity {
			return domain.ErrInvalidProductQuantity
		}
		return s.store.UpdateQuantity(ctx, cart.ID, cart.Version, productID, item.Quantity+quantity)
	}

	return s.store.AppendProduct(ctx, cart.ID, cart.Version, domain.CartItem{
		ProductID: productID,
		Quantity:  quantity,
	})
}

// LoadComplete prices the user's cart against the current catalog. Either
// every product resolves or no snapshot is returned. The cart may be served
// from the cache.
func (s *Service) LoadComplete(ctx context.Context, userID string) (*domain.CompleteCart, error) {
	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, cart)
}

// LoadCompleteFresh is LoadComplete reading the cart from the store only.
// Checkout uses it so the snapshot it charges is the cart as last written.
func (s *Service) LoadCompleteFresh(ctx context.Context, userID string) (*domain.CompleteCart, error) {
	cart, err := s.store.LoadByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return s.complete(ctx, cart)
}

func (s *Service) complete(ctx context.Context, cart *domain.Cart) (*domain.CompleteCart, error) {
	if cart == nil || len(cart.Products) == 0 {
		return nil, domain.ErrEmptyCart
	}

	products, err := s.catalog.LoadManyByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	complete := &domain.CompleteCart{
		ID:     cart.ID,
		UserID: cart.UserID,
		Items:  make([]domain.CompleteCartItem, 0, len(cart.Products)),
	}
	for _, item := range cart.Products {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, &domain.ProductNotAvailableError{ProductID: item.ProductID}
		}
		complete.Items = append(complete.Items, domain.CompleteCartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Amount:    product.Amount,
			Quantity:  item.Quantity,
		})
	}

	return complete, nil
}

// RemovePurchased takes a reconciled purchase out of the user's cart. Only
// the bought quantities go; anything added since checkout stays.
func (s *Service) RemovePurchased(ctx context.Context, userID string, purchased []domain.IntentProduct) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = s.removeOnce(ctx, userID, purchased)
		if !errors.Is(err, ErrConflict) || attempt >= s.maxAttempts {
			break
		}
		s.logger.Warn("cart write conflict, retrying", "user_id", userID, "attempt", attempt)
	}
	if err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) removeOnce(ctx context.Context, userID string, purchased []domain.IntentProduct) error {
	cart, err := s.store.LoadByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if cart == nil {
		return nil
	}

	remaining := cart.Without(purchased)
	if slices.Equal(remaining, cart.Products) {
		return nil
	}
	return s.store.ReplaceProducts(ctx, cart.ID, cart.Version, remaining)
}

func (s *Service) loadCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if s.cache != nil {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cart cache read failed", "error", err, "user_id", userID)
		}
	}

	v, err, _ := s.loads.Do(userID, func() (any, error) {
		cart, err := s.store.LoadByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		if cart != nil && s.cache != nil {
			if err := s.cache.Set(ctx, userID, cart); err != nil {
				s.logger.Warn("cart cache fill failed", "error", err, "user_id", userID)
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	cart, _ := v.(*domain.Cart)
	return cart, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("cart cache invalidation failed", "error", err, "user_id", userID)
	}
}
