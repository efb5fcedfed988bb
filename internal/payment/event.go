package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

// GatewayType is stamped on every parsed event.
const GatewayType = "stripe"

var ErrMalformedEvent = errors.New("malformed gateway event")

var eventTypes = map[string]domain.PaymentEventType{
	"checkout.session.completed":            domain.PaymentSuccess,
	"payment_intent.succeeded":              domain.PaymentSuccess,
	"checkout.session.expired":              domain.PaymentFailure,
	"checkout.session.async_payment_failed": domain.PaymentFailure,
	"payment_intent.payment_failed":         domain.PaymentFailure,
}

type gatewayEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string            `json:"id"`
			ClientReferenceID string            `json:"client_reference_id"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

type EventParser struct{}

// Parse maps a raw gateway event onto domain.PaymentEvent. Event kinds the
// store does not act on come back with an empty Type and no error.
func (EventParser) Parse(payload []byte) (*domain.PaymentEvent, error) {
	var ev gatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	object := ev.Data.Object
	intentID := object.Metadata["purchase_intent_id"]
	if intentID == "" {
		intentID = object.ClientReferenceID
	}

	return &domain.PaymentEvent{
		ID:               ev.ID,
		GatewayType:      GatewayType,
		Type:             eventTypes[ev.Type],
		PurchaseIntentID: intentID,
		UserID:           object.Metadata["user_id"],
	}, nil
}
