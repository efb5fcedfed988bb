package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

// SessionRequest is everything the gateway needs to charge a purchase intent.
type SessionRequest struct {
	UserID           string
	UserEmail        string
	PurchaseIntentID string
	Total            decimal.Decimal
	Products         []domain.IntentProduct
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client opens hosted checkout sessions on the payment gateway.
type Client struct {
	baseURL    string
	secretKey  string
	successURL string
	cancelURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, secretKey, successURL, cancelURL string, client *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		httpClient: client,
		logger:     logger,
	}
}

type lineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
}

type sessionBody struct {
	Mode              string            `json:"mode"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email,omitempty"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	AmountTotal       int64             `json:"amount_total"`
	LineItems         []lineItem        `json:"line_items"`
	Metadata          map[string]string `json:"metadata"`
}

// CreateSession returns a nil session, and no error, when the gateway answers
// but refuses to open one. Transport failures are returned as errors.
func (c *Client) CreateSession(ctx context.Context, sr SessionRequest) (*Session, error) {
	body := sessionBody{
		Mode:              "payment",
		Currency:          "usd",
		ClientReferenceID: sr.PurchaseIntentID,
		CustomerEmail:     sr.UserEmail,
		SuccessURL:        c.successURL,
		CancelURL:         c.cancelURL,
		AmountTotal:       minorUnits(sr.Total),
		LineItems:         make([]lineItem, len(sr.Products)),
		Metadata: map[string]string{
			"purchase_intent_id": sr.PurchaseIntentID,
			"user_id":            sr.UserID,
		},
	}
	for i, p := range sr.Products {
		body.LineItems[i] = lineItem{Name: p.Name, UnitAmount: minorUnits(p.Amount), Quantity: p.Quantity}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Idempotency-Key", sr.PurchaseIntentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("payment gateway refused checkout session",
			"status", resp.StatusCode,
			"purchase_intent_id", sr.PurchaseIntentID,
			"body", string(msg),
		)
		return nil, nil
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if session.URL == "" {
		c.logger.Warn("payment gateway returned session without url", "purchase_intent_id", sr.PurchaseIntentID)
		return nil, nil
	}

	return &session, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
