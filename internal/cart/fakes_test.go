package cart

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCatalog struct {
	products map[string]domain.Product
	err      error
}

func newFakeCatalog(products ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) LoadByID(_ context.Context, id string) (*domain.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *fakeCatalog) LoadManyByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	var out []domain.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeStore mimics the version checks done by MongoStore. conflicts makes
// that many writes fail with ErrConflict before any write is applied.
type fakeStore struct {
	mu        sync.Mutex
	carts     map[string]*domain.Cart
	conflicts int
	writes    int
	loads     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{carts: make(map[string]*domain.Cart)}
}

func (s *fakeStore) LoadByUserID(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	cart, ok := s.carts[userID]
	if !ok {
		return nil, nil
	}
	cp := *cart
	cp.Products = append([]domain.CartItem(nil), cart.Products...)
	return &cp, nil
}

func (s *fakeStore) Create(_ context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeConflict() {
		return ErrConflict
	}
	if _, ok := s.carts[cart.UserID]; ok {
		return ErrConflict
	}
	s.writes++
	cp := *cart
	cp.Version = 1
	s.carts[cart.UserID] = &cp
	return nil
}

func (s *fakeStore) AppendProduct(_ context.Context, cartID string, version int64, item domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, err := s.lookup(cartID, version)
	if err != nil {
		return err
	}
	if _, ok := cart.Item(item.ProductID); ok {
		return ErrConflict
	}
	s.writes++
	cart.Products = append(cart.Products, item)
	cart.Version++
	return nil
}

func (s *fakeStore) UpdateQuantity(_ context.Context, cartID string, version int64, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, err := s.lookup(cartID, version)
	if err != nil {
		return err
	}
	for i := range cart.Products {
		if cart.Products[i].ProductID == productID {
			s.writes++
			cart.Products[i].Quantity = quantity
			cart.Version++
			return nil
		}
	}
	return ErrConflict
}

func (s *fakeStore) ReplaceProducts(_ context.Context, cartID string, version int64, products []domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, err := s.lookup(cartID, version)
	if err != nil {
		return err
	}
	s.writes++
	cart.Products = append([]domain.CartItem(nil), products...)
	cart.Version++
	return nil
}

func (s *fakeStore) lookup(cartID string, version int64) (*domain.Cart, error) {
	if s.takeConflict() {
		return nil, ErrConflict
	}
	for _, cart := range s.carts {
		if cart.ID == cartID {
			if cart.Version != version {
				return nil, ErrConflict
			}
			return cart, nil
		}
	}
	return nil, fmt.Errorf("cart %s does not exist", cartID)
}

func (s *fakeStore) takeConflict() bool {
	if s.conflicts > 0 {
		s.conflicts--
		return true
	}
	return false
}

type sequenceIDs struct {
	n int
}

func (g *sequenceIDs) NewID() string {
	g.n++
	return fmt.Sprintf("cart-%d", g.n)
}

type memoryCache struct {
	mu            sync.Mutex
	entries       map[string]*domain.Cart
	invalidations int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*domain.Cart)}
}

func (c *memoryCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.entries[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return cart, nil
}

func (c *memoryCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cart
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	delete(c.entries, userID)
	return nil
}
