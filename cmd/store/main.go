package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/virtual-store/internal/cart"
	"github.com/joao-fontenele/virtual-store/internal/catalog"
	"github.com/joao-fontenele/virtual-store/internal/checkout"
	"github.com/joao-fontenele/virtual-store/internal/domain"
	"github.com/joao-fontenele/virtual-store/internal/idgen"
	"github.com/joao-fontenele/virtual-store/internal/orders"
	"github.com/joao-fontenele/virtual-store/internal/payment"
	"github.com/joao-fontenele/virtual-store/internal/telemetry"
	"github.com/joao-fontenele/virtual-store/internal/users"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "store", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("store", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

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

	gatewayURL := os.Getenv("PAYMENT_GATEWAY_URL")
	if gatewayURL == "" {
		logger.Error("PAYMENT_GATEWAY_URL environment variable is required")
		os.Exit(1)
	}

	gatewayKey := os.Getenv("PAYMENT_GATEWAY_SECRET_KEY")
	if gatewayKey == "" {
		logger.Error("PAYMENT_GATEWAY_SECRET_KEY environment variable is required")
		os.Exit(1)
	}

	successURL := os.Getenv("CHECKOUT_SUCCESS_URL")
	if successURL == "" {
		successURL = "http://localhost:8080/checkout/success"
	}

	cancelURL := os.Getenv("CHECKOUT_CANCEL_URL")
	if cancelURL == "" {
		cancelURL = "http://localhost:8080/checkout/cancel"
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

	cartStore := cart.NewMongoStore(mongoDB)
	if err := cartStore.CreateIndexes(ctx); err != nil {
		logger.Error("failed to create cart indexes", "error", err)
		os.Exit(1)
	}

	var cartOpts []cart.ServiceOption
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer func() { _ = redisClient.Close() }()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		cartOpts = append(cartOpts, cart.WithCache(cart.NewRedisCache(redisClient)))
	}

	ids := idgen.UUID{}
	catalogRepo := catalog.NewRepository(db)
	userRepo := users.NewRepository(db)
	intentRepo := checkout.NewIntentRepository(db)

	cartService := cart.NewService(cartStore, catalogRepo, ids, logger, cartOpts...)
	gatewayClient := payment.NewClient(gatewayURL, gatewayKey, successURL, cancelURL, telemetry.NewHTTPClient(10*time.Second), logger)
	checkoutService := checkout.NewService(cartService, userRepo, intentRepo, gatewayClient, ids, logger)
	orderService := orders.NewService(orders.NewPostgresRepository(db, ids), intentRepo, ids, logger)
	userService := users.NewService(userRepo, ids, logger)

	access := users.NewAccessControl(userRepo)
	authenticated := users.Middleware(access, domain.RoleUser, logger)
	admin := users.Middleware(access, domain.RoleAdmin, logger)

	catalogHandler := catalog.NewHandler(catalogRepo, logger)
	cartHandler := cart.NewHandler(cartService, logger)
	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	orderHandler := orders.NewHandler(orderService, logger)
	userHandler := users.NewHandler(userService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /signup", telemetry.WithHTTPRoute(userHandler.HandleSignUp))
	mux.HandleFunc("POST /login", telemetry.WithHTTPRoute(userHandler.HandleLogin))
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(catalogHandler.HandleList))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(catalogHandler.HandleGet))
	mux.HandleFunc("POST /cart/products", telemetry.WithHTTPRoute(authenticated(cartHandler.HandleAddProduct)))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(authenticated(cartHandler.HandleGet)))
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(authenticated(checkoutHandler.HandleCheckout)))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(authenticated(orderHandler.HandleList)))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(authenticated(orderHandler.HandleGet)))
	mux.HandleFunc("PATCH /orders/{id}", telemetry.WithHTTPRoute(admin(orderHandler.HandleUpdate)))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(mux, "store"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting store service", "port", port)
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
