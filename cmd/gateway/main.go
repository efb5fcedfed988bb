package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/virtual-store/internal/gateway"
	"github.com/joao-fontenele/virtual-store/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	storeServiceURL := os.Getenv("STORE_SERVICE_URL")
	if storeServiceURL == "" {
		logger.Error("STORE_SERVICE_URL is required")
		os.Exit(1)
	}

	paymentsServiceURL := os.Getenv("PAYMENTS_SERVICE_URL")
	if paymentsServiceURL == "" {
		logger.Error("PAYMENTS_SERVICE_URL is required")
		os.Exit(1)
	}

	httpClient := telemetry.NewHTTPClient(15 * time.Second)

	storeProxy := gateway.NewServiceProxy(storeServiceURL, httpClient)
	paymentsProxy := gateway.NewServiceProxy(paymentsServiceURL, httpClient)
	handler := gateway.NewHandler(storeProxy, paymentsProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /signup", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("POST /login", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("POST /cart/products", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("PATCH /orders/{id}", telemetry.WithHTTPRoute(handler.HandleStore))
	mux.HandleFunc("POST /webhooks/payment", telemetry.WithHTTPRoute(handler.HandlePayments))

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(mux, "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
