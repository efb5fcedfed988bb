package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

// ErrUndeliverable marks order events that can never produce a confirmation,
// no matter how often they are replayed.
var ErrUndeliverable = errors.New("confirmation cannot be delivered")

type UserLoader interface {
	LoadByID(ctx context.Context, id string) (*domain.User, error)
}

// ConfirmationHandler turns order.created events into confirmation emails
// sent through the mail relay.
type ConfirmationHandler struct {
	mailerURL  string
	users      UserLoader
	httpClient *http.Client
	logger     *slog.Logger
}

func NewConfirmationHandler(mailerURL string, users UserLoader, client *http.Client, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		mailerURL:  mailerURL,
		users:      users,
		httpClient: client,
		logger:     logger,
	}
}

type message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *ConfirmationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("undecodable order created event", "error", err)
		return fmt.Errorf("%w: unmarshal order created event: %v", ErrUndeliverable, err)
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "user_id", event.UserID)

	user, err := h.users.LoadByID(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil || user.Email == "" {
		h.logger.Warn("no recipient for order confirmation", "order_id", event.OrderID, "user_id", event.UserID)
		return fmt.Errorf("%w: no email for user %s", ErrUndeliverable, event.UserID)
	}

	if err := h.send(ctx, confirmation(user, event)); err != nil {
		h.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("order confirmation sent", "order_id", event.OrderID, "order_code", event.OrderCode)
	return nil
}

func confirmation(user *domain.User, event domain.OrderCreatedEvent) message {
	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s, thanks for your purchase.\n\n", user.Name)
	for _, p := range event.Products {
		fmt.Fprintf(&body, "%d x %s  %s\n", p.Quantity, p.Name, p.Amount.StringFixed(2))
	}
	fmt.Fprintf(&body, "\nTotal: %s\n", event.Total.StringFixed(2))

	return message{
		To:      user.Email,
		Subject: "Order Confirmation: " + event.OrderCode,
		Body:    body.String(),
	}
}

func (h *ConfirmationHandler) send(ctx context.Context, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.mailerURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: mail relay rejected message", ErrUndeliverable)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}

	return nil
}
