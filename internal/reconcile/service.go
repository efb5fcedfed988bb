package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/orders"
)

type Verifier interface {
	Verify(signature string, payload []byte) bool
}

type Parser interface {
	Parse(payload []byte) (*domain.PaymentEvent, error)
}

type UserLoader interface {
	LoadByID(ctx context.Context, id string) (*domain.User, error)
}

type OrderCreator interface {
	FindByPurchaseIntent(ctx context.Context, purchaseIntentID string) (*domain.Order, error)
	CreateOrder(ctx context.Context, purchaseIntentID string) (*domain.Order, error)
}

// IntentStore.MarkStatus reports whether the stored status changed.
type IntentStore interface {
	LoadByID(ctx context.Context, id string) (*domain.PurchaseIntent, error)
	MarkStatus(ctx context.Context, id string, status domain.PurchaseIntentStatus, at time.Time) (bool, error)
}

type CartRemover interface {
	RemovePurchased(ctx context.Context, userID string, purchased []domain.IntentProduct) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Outcome values recorded on the store.reconciliation.events counter.
const (
	OutcomeCreated   = "order_created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "payment_failed"
	OutcomeRejected  = "rejected"
	OutcomeIgnored   = "not_processed"
	OutcomeError     = "error"
)

type Service struct {
	verifier  Verifier
	parser    Parser
	users     UserLoader
	orders    OrderCreator
	intents   IntentStore
	carts     CartRemover
	publisher Publisher
	now       func() time.Time
	events    metric.Int64Counter
	logger    *slog.Logger
}

type Option func(*Service)

// WithCartRemover takes the purchased products out of the buyer's cart once
// the purchase intent completes.
func WithCartRemover(carts CartRemover) Option {
	return func(s *Service) {
		s.carts = carts
	}
}

// WithPublisher announces created orders.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.events = newEventCounter(mp)
	}
}

func NewService(verifier Verifier, parser Parser, users UserLoader, creator OrderCreator, intents IntentStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		parser:   parser,
		users:    users,
		orders:   creator,
		intents:  intents,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = newEventCounter(otel.GetMeterProvider())
	}
	return s
}

func newEventCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, _ := mp.Meter("github.com/joao-fontenele/virtual-store/internal/reconcile").Int64Counter(
		"store.reconciliation.events",
		metric.WithDescription("Payment gateway events handled, by outcome"),
		metric.WithUnit("{event}"),
	)
	return counter
}

// HandleEvent reconciles one gateway callback. Delivering the same success
// event any number of times yields exactly one order and changes the buyer's
// cart at most once.
func (s *Service) HandleEvent(ctx context.Context, event domain.TransactionEvent) error {
	outcome, err := s.handle(ctx, event)
	if err != nil && outcome == "" {
		outcome = OutcomeError
	}
	s.events.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return err
}

func (s *Service) handle(ctx context.Context, event domain.TransactionEvent) (string, error) {
	payment, err := s.verify(event)
	if err != nil {
		s.logger.Warn("gateway event rejected", "error", err)
		return OutcomeRejected, err
	}

	if (payment.Type != domain.PaymentSuccess && payment.Type != domain.PaymentFailure) || payment.PurchaseIntentID == "" {
		s.logger.Info("gateway event not processed",
			"event_id", payment.ID,
			"gateway", payment.GatewayType,
			"type", payment.Type,
			"purchase_intent_id", payment.PurchaseIntentID,
		)
		return OutcomeIgnored, domain.ErrEventNotProcessed
	}

	intent, err := s.intents.LoadByID(ctx, payment.PurchaseIntentID)
	if err != nil {
		return "", fmt.Errorf("load purchase intent: %w", err)
	}
	if intent == nil {
		s.logger.Warn("gateway event for unknown purchase intent", "event_id", payment.ID, "purchase_intent_id", payment.PurchaseIntentID)
		return OutcomeRejected, domain.ErrPurchaseIntentNotFound
	}
	if payment.UserID != intent.UserID {
		s.logger.Warn("gateway event user does not own purchase intent",
			"event_id", payment.ID,
			"purchase_intent_id", intent.ID,
			"user_id", payment.UserID,
			"owner_id", intent.UserID,
		)
		return OutcomeRejected, fmt.Errorf("%w: %s", domain.ErrIntentOwnerMismatch, intent.ID)
	}

	user, err := s.users.LoadByID(ctx, intent.UserID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		s.logger.Warn("gateway event for unknown user", "event_id", payment.ID, "user_id", intent.UserID)
		return OutcomeRejected, domain.ErrUserNotFound
	}

	if payment.Type == domain.PaymentFailure {
		return s.fail(ctx, payment)
	}
	return s.succeed(ctx, payment, intent)
}

func (s *Service) verify(event domain.TransactionEvent) (*domain.PaymentEvent, error) {
	if !s.verifier.Verify(event.Signature, event.Payload) {
		return nil, fmt.Errorf("%w: invalid signature", domain.ErrGatewayIncompatibility)
	}

	payment, err := s.parser.Parse(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayIncompatibility, err)
	}

	return payment, nil
}

func (s *Service) succeed(ctx context.Context, payment *domain.PaymentEvent, intent *domain.PurchaseIntent) (string, error) {
	outcome := OutcomeCreated

	order, err := s.orders.FindByPurchaseIntent(ctx, intent.ID)
	if err != nil {
		return "", fmt.Errorf("find order: %w", err)
	}

	if order == nil {
		order, err = s.orders.CreateOrder(ctx, intent.ID)
		switch {
		case errors.Is(err, orders.ErrDuplicatePurchaseIntent):
			order = nil
			outcome = OutcomeDuplicate
		case errors.Is(err, domain.ErrPurchaseIntentNotFound):
			s.logger.Warn("payment for unknown purchase intent", "event_id", payment.ID, "purchase_intent_id", intent.ID)
			return OutcomeRejected, err
		case err != nil:
			return "", fmt.Errorf("create order: %w", err)
		}
	} else {
		order = nil
		outcome = OutcomeDuplicate
	}

	completed, err := s.intents.MarkStatus(ctx, intent.ID, domain.PurchaseIntentStatusCompleted, s.now())
	if err != nil {
		return "", fmt.Errorf("complete purchase intent: %w", err)
	}

	if completed && s.carts != nil {
		if err := s.carts.RemovePurchased(ctx, intent.UserID, intent.Products); err != nil {
			s.logger.Error("failed to remove purchased products from cart", "error", err, "user_id", intent.UserID)
		}
	}

	if order == nil {
		s.logger.Info("payment already reconciled", "event_id", payment.ID, "purchase_intent_id", payment.PurchaseIntentID)
		return outcome, nil
	}

	if s.publisher != nil {
		event := domain.OrderCreatedEvent{
			OrderID:          order.ID,
			OrderCode:        order.OrderCode,
			UserID:           order.UserID,
			PurchaseIntentID: order.PurchaseIntentID,
			Products:         order.Products,
			Total:            order.Total(),
			Timestamp:        order.CreatedAt,
		}
		if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
			s.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
		}
	}

	s.logger.Info("payment reconciled",
		"event_id", payment.ID,
		"order_id", order.ID,
		"order_code", order.OrderCode,
		"purchase_intent_id", payment.PurchaseIntentID,
	)
	return outcome, nil
}

func (s *Service) fail(ctx context.Context, payment *domain.PaymentEvent) (string, error) {
	_, err := s.intents.MarkStatus(ctx, payment.PurchaseIntentID, domain.PurchaseIntentStatusFailed, s.now())
	if errors.Is(err, domain.ErrPurchaseIntentNotFound) {
		s.logger.Warn("payment failure for unknown purchase intent", "event_id", payment.ID, "purchase_intent_id", payment.PurchaseIntentID)
		return OutcomeRejected, err
	}
	if err != nil {
		return "", fmt.Errorf("fail purchase intent: %w", err)
	}

	s.logger.Info("payment failed", "event_id", payment.ID, "purchase_intent_id", payment.PurchaseIntentID)
	return OutcomeFailed, nil
}
