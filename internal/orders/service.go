package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
)

var ErrOrderNotFound = errors.New("order not found")

type IntentLoader interface {
	LoadByID(ctx context.Context, id string) (*domain.PurchaseIntent, error)
}

type Service struct {
	repo          Repository
	intents       IntentLoader
	ids           idgen.Generator
	now           func() time.Time
	status        domain.OrderStatus
	paymentStatus domain.PaymentStatus
	logger        *slog.Logger
}

type ServiceOption func(*Service)

// WithDefaultStatus sets the status new orders start in.
func WithDefaultStatus(status domain.OrderStatus) ServiceOption {
	return func(s *Service) {
		s.status = status
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, intents IntentLoader, ids idgen.Generator, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:          repo,
		intents:       intents,
		ids:           ids,
		now:           func() time.Time { return time.Now().UTC() },
		status:        domain.OrderStatusPending,
		paymentStatus: domain.PaymentStatusPaid,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder turns a paid purchase intent into an order owned by the user
// who checked out. The storage layer rejects a second order for the same
// intent with ErrDuplicatePurchaseIntent.
func (s *Service) CreateOrder(ctx context.Context, purchaseIntentID string) (*domain.Order, error) {
	intent, err := s.intents.LoadByID(ctx, purchaseIntentID)
	if err != nil {
		return nil, fmt.Errorf("load purchase intent: %w", err)
	}
	if intent == nil {
		return nil, domain.ErrPurchaseIntentNotFound
	}

	now := s.now()
	order := &domain.Order{
		ID:               s.ids.NewID(),
		UserID:           intent.UserID,
		PurchaseIntentID: intent.ID,
		OrderCode:        intent.OrderCode,
		Products:         intent.Products,
		Status:           s.status,
		PaymentStatus:    s.paymentStatus,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Add(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("order created", "order_id", order.ID, "order_code", order.OrderCode, "purchase_intent_id", intent.ID)
	return order, nil
}

func (s *Service) Update(ctx context.Context, id string, delta domain.OrderDelta) (*domain.Order, error) {
	if delta.UpdatedAt.IsZero() {
		delta.UpdatedAt = s.now()
	}

	order, err := s.repo.UpdateByID(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	return order, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// FindByPurchaseIntent returns nil when no order exists for the intent.
func (s *Service) FindByPurchaseIntent(ctx context.Context, purchaseIntentID string) (*domain.Order, error) {
	return s.repo.LoadByPurchaseIntentID(ctx, purchaseIntentID)
}
