package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
	"github.com/joao-fontenele/virtual-store/internal/payment"
)

// CartLoader must read the cart as last written, bypassing any cache.
type CartLoader interface {
	LoadCompleteFresh(ctx context.Context, userID string) (*domain.CompleteCart, error)
}

type UserLoader interface {
	LoadByID(ctx context.Context, id string) (*domain.User, error)
}

type IntentStore interface {
	Save(ctx context.Context, intent *domain.PurchaseIntent) error
	LoadByID(ctx context.Context, id string) (*domain.PurchaseIntent, error)
	MarkStatus(ctx context.Context, id string, status domain.PurchaseIntentStatus, at time.Time) (bool, error)
}

type Gateway interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

type Service struct {
	carts   CartLoader
	users   UserLoader
	intents IntentStore
	gateway Gateway
	ids     idgen.Generator
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(carts CartLoader, users UserLoader, intents IntentStore, gateway Gateway, ids idgen.Generator, logger *slog.Logger) *Service {
	return &Service{
		carts:   carts,
		users:   users,
		intents: intents,
		gateway: gateway,
		ids:     ids,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Checkout freezes the user's cart into a purchase intent and asks the
// gateway for a hosted payment session. The intent is stored before the
// gateway is called so that any callback can be matched against it.
func (s *Service) Checkout(ctx context.Context, userID string) (*payment.Session, error) {
	cart, err := s.carts.LoadCompleteFresh(ctx, userID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.LoadByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}

	intent := domain.NewPurchaseIntent(s.ids.NewID(), cart, s.now())
	if err := s.intents.Save(ctx, intent); err != nil {
		return nil, fmt.Errorf("save purchase intent: %w", err)
	}

	total := intent.Total()
	session, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		UserID:           user.ID,
		UserEmail:        user.Email,
		PurchaseIntentID: intent.ID,
		Total:            total,
		Products:         intent.Products,
	})
	if err != nil {
		s.fail(ctx, intent.ID)
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil {
		s.fail(ctx, intent.ID)
		return nil, domain.ErrCheckoutFailure
	}

	s.logger.Info("checkout session opened",
		"purchase_intent_id", intent.ID,
		"user_id", userID,
		"total", total.String(),
	)
	return session, nil
}

func (s *Service) fail(ctx context.Context, intentID string) {
	if _, err := s.intents.MarkStatus(ctx, intentID, domain.PurchaseIntentStatusFailed, s.now()); err != nil {
		s.logger.Error("failed to mark purchase intent as failed", "error", err, "purchase_intent_id", intentID)
	}
}
