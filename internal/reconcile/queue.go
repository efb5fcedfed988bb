package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

// Queue defers reconciliation to a worker. Callbacks are verified and mapped
// before they are enqueued, so only events a worker can act on are published.
type Queue struct {
	verifier  Verifier
	parser    Parser
	publisher Publisher
	logger    *slog.Logger
}

func NewQueue(verifier Verifier, parser Parser, publisher Publisher, logger *slog.Logger) *Queue {
	return &Queue{
		verifier:  verifier,
		parser:    parser,
		publisher: publisher,
		logger:    logger,
	}
}

// Enqueue publishes event keyed by its purchase intent, keeping callbacks for
// one intent in delivery order.
func (q *Queue) Enqueue(ctx context.Context, event domain.TransactionEvent) error {
	if !q.verifier.Verify(event.Signature, event.Payload) {
		return fmt.Errorf("%w: invalid signature", domain.ErrGatewayIncompatibility)
	}

	payment, err := q.parser.Parse(event.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayIncompatibility, err)
	}
	if payment.Type == "" || payment.PurchaseIntentID == "" {
		return domain.ErrEventNotProcessed
	}

	if err := q.publisher.Publish(ctx, payment.PurchaseIntentID, event); err != nil {
		return fmt.Errorf("enqueue payment event: %w", err)
	}

	q.logger.Info("payment event enqueued", "event_id", payment.ID, "purchase_intent_id", payment.PurchaseIntentID)
	return nil
}

// HandleMessage is the worker side of Queue. Errors that replaying cannot fix
// are logged and reported so the consumer can skip the message.
func (s *Service) HandleMessage(ctx context.Context, payload []byte) error {
	var event domain.TransactionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Error("undecodable payment event message", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrGatewayIncompatibility, err)
	}

	err := s.HandleEvent(ctx, event)
	if err != nil && !domain.Recoverable(err) {
		s.logger.Error("dropping payment event", "error", err)
	}
	return err
}
