package main

import (
	"context"
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

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "payments", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("payments", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	webhookSecret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Error("PAYMENT_WEBHOOK_SECRET environment variable is required")
		os.Exit(1)
	}

	verifier := payment.NewSignatureVerifier(webhookSecret)
	parser := payment.EventParser{}

	var submit func(context.Context, domain.TransactionEvent) error

	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), messaging.TopicPaymentEvents, "payment.transaction")
		defer func() { _ = producer.Close() }()

		submit = reconcile.NewQueue(verifier, parser, producer, logger).Enqueue
		logger.Info("payment events are enqueued", "topic", messaging.TopicPaymentEvents)
	} else {
		postgresURL := os.Getenv("POSTGRES_URL")
		if postgresURL == "" {
			logger.Error("POSTGRES_URL environment variable is required when KAFKA_BROKERS is not set")
			os.Exit(1)
		}

		db, err := telemetry.OpenPostgres(ctx, postgresURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		orderStatus := domain.OrderStatus(os.Getenv("ORDER_DEFAULT_STATUS"))
		if orderStatus == "" {
			orderStatus = domain.OrderStatusPending
		}
		if !orderStatus.Valid() {
			logger.Error("invalid ORDER_DEFAULT_STATUS", "status", orderStatus)
			os.Exit(1)
		}

		ids := idgen.UUID{}
		intentRepo := checkout.NewIntentRepository(db)
		orderService := orders.NewService(orders.NewPostgresRepository(db, ids), intentRepo, ids, logger, orders.WithDefaultStatus(orderStatus))

		var opts []reconcile.Option
		if mongoURI := os.Getenv("MONGO_URI"); mongoURI != "" {
			mongoDatabase := os.Getenv("MONGO_DATABASE")
			if mongoDatabase == "" {
				mongoDatabase = "store"
			}

			mongoDB, err := cart.ConnectMongoDB(ctx, mongoURI, mongoDatabase)
			if err != nil {
				logger.Error("failed to connect to mongodb", "error", err)
				os.Exit(1)
			}
			defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()

			cartService := cart.NewService(cart.NewMongoStore(mongoDB), catalog.NewRepository(db), ids, logger)
			opts = append(opts, reconcile.WithCartRemover(cartService))
		}

		service := reconcile.NewService(verifier, parser, users.NewRepository(db), orderService, intentRepo, logger, opts...)
		submit = service.HandleEvent
		logger.Info("payment events are reconciled inline")
	}

	handler := reconcile.NewHandler(submit, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/payment", telemetry.WithHTTPRoute(handler.HandleWebhook))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(mux, "payments"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting payments service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
