//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/virtual-store/internal/cart"
	"github.com/joao-fontenele/virtual-store/internal/catalog"
	"github.com/joao-fontenele/virtual-store/internal/checkout"
	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
	"github.com/joao-fontenele/virtual-store/internal/messaging"
	"github.com/joao-fontenele/virtual-store/internal/orders"
	"github.com/joao-fontenele/virtual-store/internal/payment"
	"github.com/joao-fontenele/virtual-store/internal/reconcile"
	"github.com/joao-fontenele/virtual-store/internal/users"
)

// Seeded by migrations/000002_seed.up.sql.
const (
	customerID = "9d2a6e0c-3c1b-4f7e-8a55-5b7f0e1a0001"
	tshirtID   = "b3f1c1de-6f4e-4a53-9a43-0c1d5f0a0001"
	mugID      = "b3f1c1de-6f4e-4a53-9a43-0c1d5f0a0002"
	hoodieID   = "b3f1c1de-6f4e-4a53-9a43-0c1d5f0a0003"

	webhookSecret = "whsec_integration"
)

// gatewayStub plays the hosted checkout provider and remembers the purchase
// intents it was asked to open sessions for.
type gatewayStub struct {
	mu      sync.Mutex
	intents []string
}

func (g *gatewayStub) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.intents = append(g.intents, req.Metadata["purchase_intent_id"])
	n := len(g.intents)
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"id":"cs_%d","url":"https://checkout.test/cs_%d"}`, n, n)
}

func (g *gatewayStub) lastIntent() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.intents) == 0 {
		return ""
	}
	return g.intents[len(g.intents)-1]
}

type storeStack struct {
	db       *sql.DB
	carts    *cart.Service
	cartRepo *cart.MongoStore
	intents  *checkout.IntentRepository
	checkout *checkout.Service
	orders   *orders.Service
	ordRepo  *orders.PostgresRepository
	users    *users.Repository
	gateway  *gatewayStub
	logger   *slog.Logger
}

func setupStore(ctx context.Context, t *testing.T) *storeStack {
	t.Helper()

	pg := SetupPostgres(ctx, t)
	t.Cleanup(pg.Cleanup)

	mongoURI, mongoCleanup := SetupMongo(ctx, t)
	t.Cleanup(mongoCleanup)

	db, err := OpenDB(ctx, pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mongoDB, err := cart.ConnectMongoDB(ctx, mongoURI, "store")
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}
	t.Cleanup(func() { _ = mongoDB.Client().Disconnect(context.Background()) })

	cartRepo := cart.NewMongoStore(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		t.Fatalf("failed to create cart indexes: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ids := idgen.UUID{}

	gw := &gatewayStub{}
	gwMux := http.NewServeMux()
	gwMux.HandleFunc("POST /v1/checkout/sessions", gw.handler)
	gwServer := httptest.NewServer(gwMux)
	t.Cleanup(gwServer.Close)

	userRepo := users.NewRepository(db)
	carts := cart.NewService(cartRepo, catalog.NewRepository(db), ids, logger, cart.WithMaxAttempts(20))
	intents := checkout.NewIntentRepository(db)
	client := payment.NewClient(gwServer.URL, "sk_test", "https://store.test/ok", "https://store.test/cancel",
		&http.Client{Timeout: 10 * time.Second}, logger)
	ordRepo := orders.NewPostgresRepository(db, ids)

	return &storeStack{
		db:       db,
		carts:    carts,
		cartRepo: cartRepo,
		intents:  intents,
		checkout: checkout.NewService(carts, userRepo, intents, client, ids, logger),
		orders:   orders.NewService(ordRepo, intents, ids, logger),
		ordRepo:  ordRepo,
		users:    userRepo,
		gateway:  gw,
		logger:   logger,
	}
}

func (s *storeStack) reconciler() *reconcile.Service {
	return reconcile.NewService(
		payment.NewSignatureVerifier(webhookSecret),
		payment.EventParser{},
		s.users,
		s.orders,
		s.intents,
		s.logger,
		reconcile.WithCartRemover(s.carts),
	)
}

func completedEvent(t *testing.T, eventID, intentID string) domain.TransactionEvent {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":%q,"metadata":{"purchase_intent_id":%q,"user_id":%q}}}}`,
		eventID, intentID, intentID, customerID)
	return domain.TransactionEvent{
		Signature: payment.Sign(webhookSecret, []byte(payload), time.Now()),
		Payload:   []byte(payload),
	}
}

func fillCart(ctx context.Context, t *testing.T, s *storeStack) {
	t.Helper()
	if err := s.carts.AddProduct(ctx, customerID, tshirtID, 2); err != nil {
		t.Fatalf("failed to add t-shirt: %v", err)
	}
	if err := s.carts.AddProduct(ctx, customerID, hoodieID, 1); err != nil {
		t.Fatalf("failed to add hoodie: %v", err)
	}
}

func TestPurchaseFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := setupStore(ctx, t)
	fillCart(ctx, t, s)

	session, err := s.checkout.Checkout(ctx, customerID)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !strings.HasPrefix(session.URL, "https://checkout.test/") {
		t.Fatalf("unexpected session url %q", session.URL)
	}

	intentID := s.gateway.lastIntent()
	intent, err := s.intents.LoadByID(ctx, intentID)
	if err != nil {
		t.Fatalf("failed to load intent: %v", err)
	}
	if intent == nil {
		t.Fatal("purchase intent not persisted")
	}
	if intent.Status != domain.PurchaseIntentStatusOpen {
		t.Fatalf("expected intent status %s, got %s", domain.PurchaseIntentStatusOpen, intent.Status)
	}
	wantTotal := decimal.RequireFromString("61.79")
	if !intent.Total().Equal(wantTotal) {
		t.Fatalf("expected intent total %s, got %s", wantTotal, intent.Total())
	}

	if err := s.carts.AddProduct(ctx, customerID, mugID, 1); err != nil {
		t.Fatalf("failed to add mug after checkout: %v", err)
	}

	webhook := reconcile.NewHandler(s.reconciler().HandleEvent, s.logger)
	event := completedEvent(t, "evt_1", intentID)

	for attempt := 1; attempt <= 2; attempt++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(string(event.Payload)))
		req.Header.Set(payment.SignatureHeader, event.Signature)
		rec := httptest.NewRecorder()
		webhook.HandleWebhook(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected status %d, got %d: %s", attempt, http.StatusOK, rec.Code, rec.Body.String())
		}
	}

	placed, err := s.ordRepo.ListByUserID(ctx, customerID)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(placed) != 1 {
		t.Fatalf("expected exactly 1 order, got %d", len(placed))
	}
	order := placed[0]
	if order.PurchaseIntentID != intentID {
		t.Fatalf("order points at intent %q, want %q", order.PurchaseIntentID, intentID)
	}
	if order.OrderCode != intent.OrderCode {
		t.Fatalf("expected order code %q, got %q", intent.OrderCode, order.OrderCode)
	}
	if order.UserID != intent.UserID {
		t.Fatalf("order owned by %q, want intent owner %q", order.UserID, intent.UserID)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected order state %s/%s", order.Status, order.PaymentStatus)
	}
	if !order.Total().Equal(wantTotal) {
		t.Fatalf("expected order total %s, got %s", wantTotal, order.Total())
	}
	if len(order.Products) != 2 || order.Products[0].ID != tshirtID || order.Products[1].ID != hoodieID {
		t.Fatalf("order products out of cart order: %+v", order.Products)
	}

	intent, err = s.intents.LoadByID(ctx, intentID)
	if err != nil {
		t.Fatalf("failed to reload intent: %v", err)
	}
	if intent.Status != domain.PurchaseIntentStatusCompleted {
		t.Fatalf("expected intent status %s, got %s", domain.PurchaseIntentStatusCompleted, intent.Status)
	}

	var itemIDs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT id) FROM order_items WHERE order_id = $1`, order.ID).Scan(&itemIDs); err != nil {
		t.Fatalf("failed to count order items: %v", err)
	}
	if itemIDs != len(order.Products) {
		t.Fatalf("expected %d distinct order item ids, got %d", len(order.Products), itemIDs)
	}

	remaining, err := s.cartRepo.LoadByUserID(ctx, customerID)
	if err != nil {
		t.Fatalf("failed to load cart: %v", err)
	}
	want := []domain.CartItem{{ProductID: mugID, Quantity: 1}}
	if remaining == nil || !slices.Equal(remaining.Products, want) {
		t.Fatalf("expected only the mug added after checkout to remain, got %+v", remaining)
	}
}

func TestConcurrentWebhookDeliveries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := setupStore(ctx, t)
	fillCart(ctx, t, s)

	if _, err := s.checkout.Checkout(ctx, customerID); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	intentID := s.gateway.lastIntent()

	svc := s.reconciler()
	event := completedEvent(t, "evt_race", intentID)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.HandleEvent(ctx, event)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("delivery failed: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE purchase_intent_id = $1`, intentID).Scan(&count); err != nil {
		t.Fatalf("failed to count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 order, got %d", count)
	}
}

func TestPaymentFailureMarksIntentFailed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := setupStore(ctx, t)
	fillCart(ctx, t, s)

	if _, err := s.checkout.Checkout(ctx, customerID); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	intentID := s.gateway.lastIntent()

	payload := fmt.Sprintf(`{"id":"evt_exp","type":"checkout.session.expired","data":{"object":{"id":"cs_1","metadata":{"purchase_intent_id":%q,"user_id":%q}}}}`,
		intentID, customerID)
	event := domain.TransactionEvent{
		Signature: payment.Sign(webhookSecret, []byte(payload), time.Now()),
		Payload:   []byte(payload),
	}
	if err := s.reconciler().HandleEvent(ctx, event); err != nil {
		t.Fatalf("failure event rejected: %v", err)
	}

	intent, err := s.intents.LoadByID(ctx, intentID)
	if err != nil {
		t.Fatalf("failed to load intent: %v", err)
	}
	if intent.Status != domain.PurchaseIntentStatusFailed {
		t.Fatalf("expected intent status %s, got %s", domain.PurchaseIntentStatusFailed, intent.Status)
	}

	order, err := s.ordRepo.LoadByPurchaseIntentID(ctx, intentID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order != nil {
		t.Fatalf("expected no order for failed payment, got %s", order.ID)
	}

	kept, err := s.cartRepo.LoadByUserID(ctx, customerID)
	if err != nil {
		t.Fatalf("failed to load cart: %v", err)
	}
	if kept == nil || len(kept.Products) != 2 {
		t.Fatalf("expected cart to survive a failed payment, got %+v", kept)
	}
}

func TestCartConcurrentAdds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := setupStore(ctx, t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.carts.AddProduct(ctx, customerID, tshirtID, 1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("add product failed: %v", err)
		}
	}

	stored, err := s.cartRepo.LoadByUserID(ctx, customerID)
	if err != nil {
		t.Fatalf("failed to load cart: %v", err)
	}
	item, ok := stored.Item(tshirtID)
	if !ok || item.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %+v", stored.Products)
	}

	err = s.cartRepo.UpdateQuantity(ctx, stored.ID, stored.Version-1, tshirtID, 99)
	if !errors.Is(err, cart.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestQueuedReconciliation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	s := setupStore(ctx, t)

	brokers, kafkaCleanup := SetupKafka(ctx, t)
	defer kafkaCleanup()

	fillCart(ctx, t, s)
	if _, err := s.checkout.Checkout(ctx, customerID); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	intentID := s.gateway.lastIntent()

	producer := messaging.NewProducer(brokers, messaging.TopicPaymentEvents, "payment.transaction")
	defer func() { _ = producer.Close() }()

	queue := reconcile.NewQueue(payment.NewSignatureVerifier(webhookSecret), payment.EventParser{}, producer, s.logger)
	event := completedEvent(t, "evt_queued", intentID)

	// The topic is auto-created by the first write.
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		if err = queue.Enqueue(ctx, event); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("failed to enqueue event: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, messaging.TopicPaymentEvents, "reconciler-test",
		messaging.WithStartOffset(kafka.FirstOffset),
		messaging.WithSkipOn(func(err error) bool { return !domain.Recoverable(err) }),
	)
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	reconciler := reconcile.NewService(
		payment.NewSignatureVerifier(webhookSecret, payment.WithTolerance(0)),
		payment.EventParser{},
		s.users,
		s.orders,
		s.intents,
		s.logger,
		reconcile.WithCartRemover(s.carts),
	)
	go func() { _ = consumer.Consume(consumeCtx, reconciler.HandleMessage) }()

	deadline := time.Now().Add(time.Minute)
	for {
		order, err := s.ordRepo.LoadByPurchaseIntentID(ctx, intentID)
		if err != nil {
			t.Fatalf("failed to load order: %v", err)
		}
		if order != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("order was not created from queued event")
		}
		time.Sleep(500 * time.Millisecond)
	}

	intent, err := s.intents.LoadByID(ctx, intentID)
	if err != nil {
		t.Fatalf("failed to load intent: %v", err)
	}
	if intent.Status != domain.PurchaseIntentStatusCompleted {
		t.Fatalf("expected intent status %s, got %s", domain.PurchaseIntentStatusCompleted, intent.Status)
	}
}

func TestCatalogReads(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(ctx, pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := catalog.NewRepository(db)
	handler := catalog.NewHandler(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", handler.HandleList)
	mux.HandleFunc("GET /products/{id}", handler.HandleGet)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var products []domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&products); err != nil {
		t.Fatalf("failed to decode products: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("expected 3 seeded products, got %d", len(products))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/"+tshirtID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var tshirt domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&tshirt); err != nil {
		t.Fatalf("failed to decode product: %v", err)
	}
	if !tshirt.Amount.Equal(decimal.RequireFromString("10.90")) {
		t.Fatalf("expected amount 10.90, got %s", tshirt.Amount)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/b3f1c1de-6f4e-4a53-9a43-0c1d5f0a0999", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	found, err := repo.LoadManyByIDs(ctx, []string{tshirtID, hoodieID, "b3f1c1de-6f4e-4a53-9a43-0c1d5f0a0999"})
	if err != nil {
		t.Fatalf("failed to load products: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 known products, got %d", len(found))
	}
}

func TestSignUpAndLogin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(ctx, pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := users.NewRepository(db)
	svc := users.NewService(repo, idgen.UUID{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	access := users.NewAccessControl(repo)

	signupToken, err := svc.SignUp(ctx, users.SignUpInput{
		Name:                 "New Customer",
		Email:                "new@example.com",
		Password:             "abcd1234",
		PasswordConfirmation: "abcd1234",
	})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if _, err := access.Authorize(ctx, signupToken, domain.RoleUser); err != nil {
		t.Fatalf("signup token rejected: %v", err)
	}

	account := &users.Account{User: domain.User{ID: "dup", Name: "Dup", Email: "new@example.com", Role: domain.RoleUser}}
	if err := repo.Add(ctx, account, "dup-token"); !errors.Is(err, domain.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}

	loginToken, err := svc.Login(ctx, "new@example.com", "abcd1234")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := access.Authorize(ctx, signupToken, domain.RoleUser); !errors.Is(err, users.ErrInvalidToken) {
		t.Fatalf("expected rotated-out token to be invalid, got %v", err)
	}
	user, err := access.Authorize(ctx, loginToken, domain.RoleUser)
	if err != nil {
		t.Fatalf("login token rejected: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := svc.Login(ctx, "customer@example.com", "anything"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected seeded user without password to be refused, got %v", err)
	}
}
