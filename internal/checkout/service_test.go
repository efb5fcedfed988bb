package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/payment"
	"github.com/joao-fontenele/virtual-store/internal/users"
)

// fakeCarts serves cart from the store and cached from a cache that may lag
// behind it.
type fakeCarts struct {
	cart   *domain.CompleteCart
	cached *domain.CompleteCart
	err    error
}

func (f *fakeCarts) LoadComplete(context.Context, string) (*domain.CompleteCart, error) {
	if f.cached != nil {
		return f.cached, f.err
	}
	return f.cart, f.err
}

func (f *fakeCarts) LoadCompleteFresh(context.Context, string) (*domain.CompleteCart, error) {
	return f.cart, f.err
}

type fakeUsers map[string]*domain.User

func (f fakeUsers) LoadByID(_ context.Context, id string) (*domain.User, error) {
	return f[id], nil
}

type fakeIntents struct {
	saved  map[string]*domain.PurchaseIntent
	status map[string]domain.PurchaseIntentStatus
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{
		saved:  make(map[string]*domain.PurchaseIntent),
		status: make(map[string]domain.PurchaseIntentStatus),
	}
}

func (f *fakeIntents) Save(_ context.Context, intent *domain.PurchaseIntent) error {
	f.saved[intent.ID] = intent
	f.status[intent.ID] = intent.Status
	return nil
}

func (f *fakeIntents) LoadByID(_ context.Context, id string) (*domain.PurchaseIntent, error) {
	return f.saved[id], nil
}

func (f *fakeIntents) MarkStatus(_ context.Context, id string, status domain.PurchaseIntentStatus, _ time.Time) (bool, error) {
	changed := f.status[id] != status
	f.status[id] = status
	return changed, nil
}

type fakeGateway struct {
	session *payment.Session
	err     error
	calls   []payment.SessionRequest
}

func (f *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	f.calls = append(f.calls, req)
	return f.session, f.err
}

type fixedID string

func (f fixedID) NewID() string { return string(f) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completeCart() *domain.CompleteCart {
	return &domain.CompleteCart{
		ID:     "c1",
		UserID: "u1",
		Items: []domain.CompleteCartItem{
			{ProductID: "p1", Name: "Shirt", Amount: decimal.RequireFromString("10.90"), Quantity: 2},
		},
	}
}

var testUsers = fakeUsers{"u1": {ID: "u1", Email: "u1@example.com", Role: domain.RoleUser}}

func TestCheckout(t *testing.T) {
	intents := newFakeIntents()
	gateway := &fakeGateway{session: &payment.Session{ID: "cs_1", URL: "https://pay/cs_1"}}
	svc := NewService(&fakeCarts{cart: completeCart()}, testUsers, intents, gateway, fixedID("pi-1"), discardLogger())

	session, err := svc.Checkout(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay/cs_1", session.URL)

	intent := intents.saved["pi-1"]
	require.NotNil(t, intent)
	assert.Equal(t, "PI1", intent.OrderCode)
	assert.Equal(t, domain.PurchaseIntentStatusOpen, intents.status["pi-1"])
	require.Len(t, intent.Products, 1)
	assert.Equal(t, "Shirt", intent.Products[0].Name)

	require.Len(t, gateway.calls, 1)
	call := gateway.calls[0]
	assert.Equal(t, "pi-1", call.PurchaseIntentID)
	assert.Equal(t, "u1@example.com", call.UserEmail)
	assert.True(t, decimal.RequireFromString("21.80").Equal(call.Total))
}

func TestCheckout_UsesCurrentCart(t *testing.T) {
	intents := newFakeIntents()
	gateway := &fakeGateway{session: &payment.Session{ID: "cs_1", URL: "https://pay/cs_1"}}
	current := completeCart()
	current.Items[0].Quantity = 5
	carts := &fakeCarts{cart: current, cached: completeCart()}
	svc := NewService(carts, testUsers, intents, gateway, fixedID("pi-1"), discardLogger())

	_, err := svc.Checkout(context.Background(), "u1")
	require.NoError(t, err)

	intent := intents.saved["pi-1"]
	require.NotNil(t, intent)
	assert.Equal(t, 5, intent.Products[0].Quantity)
	require.Len(t, gateway.calls, 1)
	assert.True(t, decimal.RequireFromString("54.50").Equal(gateway.calls[0].Total), "got %s", gateway.calls[0].Total)
}

func TestCheckout_ChargesSnapshotTotal(t *testing.T) {
	intents := newFakeIntents()
	gateway := &fakeGateway{session: &payment.Session{ID: "cs_1", URL: "https://pay/cs_1"}}
	cart := completeCart()
	cart.Items = append(cart.Items, domain.CompleteCartItem{ProductID: "p2", Name: "Mug", Amount: decimal.RequireFromString("4.50"), Quantity: 3})
	svc := NewService(&fakeCarts{cart: cart}, testUsers, intents, gateway, fixedID("pi-1"), discardLogger())

	_, err := svc.Checkout(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, gateway.calls, 1)
	call := gateway.calls[0]
	assert.Equal(t, intents.saved["pi-1"].Products, call.Products)
	assert.True(t, intents.saved["pi-1"].Total().Equal(call.Total))
	assert.True(t, decimal.RequireFromString("35.30").Equal(call.Total), "got %s", call.Total)
}

func TestCheckout_EmptyCart(t *testing.T) {
	intents := newFakeIntents()
	gateway := &fakeGateway{}
	svc := NewService(&fakeCarts{err: domain.ErrEmptyCart}, testUsers, intents, gateway, fixedID("pi-1"), discardLogger())

	_, err := svc.Checkout(context.Background(), "u1")

	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Empty(t, gateway.calls)
	assert.Empty(t, intents.saved)
}

func TestCheckout_ProductNotAvailable(t *testing.T) {
	gateway := &fakeGateway{}
	svc := NewService(&fakeCarts{err: &domain.ProductNotAvailableError{ProductID: "p9"}}, testUsers, newFakeIntents(), gateway, fixedID("pi-1"), discardLogger())

	_, err := svc.Checkout(context.Background(), "u1")

	var notAvailable *domain.ProductNotAvailableError
	require.ErrorAs(t, err, &notAvailable)
	assert.Equal(t, "p9", notAvailable.ProductID)
	assert.Empty(t, gateway.calls)
}

func TestCheckout_UnknownUser(t *testing.T) {
	gateway := &fakeGateway{}
	svc := NewService(&fakeCarts{cart: completeCart()}, fakeUsers{}, newFakeIntents(), gateway, fixedID("pi-1"), discardLogger())

	_, err := svc.Checkout(context.Background(), "u1")

	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Empty(t, gateway.calls)
}

func TestCheckout_GatewayRefuses(t *testing.T) {
	intents := newFakeIntents()
	svc := NewService(&fakeCarts{cart: completeCart()}, testUsers, intents, &fakeGateway{}, fixedID("pi-1"), discardLogger())

	session, err := svc.Checkout(context.Background(), "u1")

	assert.Nil(t, session)
	assert.ErrorIs(t, err, domain.ErrCheckoutFailure)
	assert.Equal(t, domain.PurchaseIntentStatusFailed, intents.status["pi-1"])
}

func TestCheckout_GatewayUnreachable(t *testing.T) {
	intents := newFakeIntents()
	boom := errors.New("connection refused")
	svc := NewService(&fakeCarts{cart: completeCart()}, testUsers, intents, &fakeGateway{err: boom}, fixedID("pi-1"), discardLogger())

	_, err := svc.Checkout(context.Background(), "u1")

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrCheckoutFailure)
	assert.Equal(t, domain.PurchaseIntentStatusFailed, intents.status["pi-1"])
}

func TestHandleCheckout(t *testing.T) {
	tests := []struct {
		name       string
		carts      *fakeCarts
		gateway    *fakeGateway
		wantStatus int
	}{
		{
			name:       "session opened",
			carts:      &fakeCarts{cart: completeCart()},
			gateway:    &fakeGateway{session: &payment.Session{URL: "https://pay/cs_1"}},
			wantStatus: http.StatusOK,
		},
		{name: "empty cart", carts: &fakeCarts{err: domain.ErrEmptyCart}, gateway: &fakeGateway{}, wantStatus: http.StatusBadRequest},
		{name: "product gone", carts: &fakeCarts{err: &domain.ProductNotAvailableError{ProductID: "p1"}}, gateway: &fakeGateway{}, wantStatus: http.StatusNotFound},
		{name: "gateway refused", carts: &fakeCarts{cart: completeCart()}, gateway: &fakeGateway{}, wantStatus: http.StatusBadGateway},
		{name: "unexpected", carts: &fakeCarts{err: errors.New("mongo down")}, gateway: &fakeGateway{}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.carts, testUsers, newFakeIntents(), tt.gateway, fixedID("pi-1"), discardLogger())
			handler := NewHandler(svc, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
			req = req.WithContext(users.WithUser(req.Context(), testUsers["u1"]))
			rec := httptest.NewRecorder()

			handler.HandleCheckout(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
