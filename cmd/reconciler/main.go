package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/virtual-store/internal/cart"
	"github.com/joao-fontenele/virtual-store/internal/catalog"
	"github.com/joao-fontenele/virtual-store/internal/checkout"
	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
	"github.com/joao-fontenele/virtual-store/internal/messaging"
	"github.com/joao-fontenele/virtual-store/internal/orders"
	"github.com/joao-fontenele/virtual-store/internal/payment"
	"github.com/joao-fontenele/virtual-store/internal/reconcile"
	"github.com/joao-fontenele/virtual-store/internal/telemetry"
	"github.com/joao-fontenele/virtual-store/internal/users"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "reconciler", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("reconciler", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		logger.Error("MONGO_URI environment variable is required")
		os.Exit(1)
	}

	mongoDatabase := os.Getenv("MONGO_DATABASE")
	if mongoDatabase == "" {
		mongoDatabase = "store"
	}

	webhookSecret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Error("PAYMENT_WEBHOOK_SECRET environment variable is required")
		os.Exit(1)
	}

	orderStatus := domain.OrderStatus(os.Getenv("ORDER_DEFAULT_STATUS"))
	if orderStatus == "" {
		orderStatus = domain.OrderStatusPending
	}
	if !orderStatus.Valid() {
		logger.Error("invalid ORDER_DEFAULT_STATUS", "status", orderStatus)
		os.Exit(1)
	}

	db, err := telemetry.OpenPostgres(ctx, postgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	mongoDB, err := cart.ConnectMongoDB(ctx, mongoURI, mongoDatabase)
	if err != nil {
		logger.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()

	brokers := strings.Split(kafkaBrokers, ",")

	producer := messaging.NewProducer(brokers, messaging.TopicOrderCreated, "order.created")
	defer func() { _ = producer.Close() }()

	consumer := messaging.NewConsumer(brokers, messaging.TopicPaymentEvents, "reconciler",
		messaging.WithSkipOn(func(err error) bool { return !domain.Recoverable(err) }),
	)
	defer func() { _ = consumer.Close() }()

	ids := idgen.UUID{}
	intentRepo := checkout.NewIntentRepository(db)
	orderService := orders.NewService(orders.NewPostgresRepository(db, ids), intentRepo, ids, logger, orders.WithDefaultStatus(orderStatus))
	cartService := cart.NewService(cart.NewMongoStore(mongoDB), catalog.NewRepository(db), ids, logger)

	service := reconcile.NewService(
		payment.NewSignatureVerifier(webhookSecret, payment.WithTolerance(0)),
		payment.EventParser{},
		users.NewRepository(db),
		orderService,
		intentRepo,
		logger,
		reconcile.WithCartRemover(cartService),
		reconcile.WithPublisher(producer),
	)

	metricsPort := os.Getenv("PORT")
	if metricsPort == "" {
		metricsPort = "9090"
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:              ":" + metricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting reconciler", "brokers", brokers, "topic", messaging.TopicPaymentEvents)

	if err := consumer.Consume(runCtx, service.HandleMessage); err != nil {
		if errors.Is(runCtx.Err(), context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
