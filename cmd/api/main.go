package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/checkout-saga/internal/api"
	"github.com/example/checkout-saga/internal/auth"
	"github.com/example/checkout-saga/internal/clients"
	"github.com/example/checkout-saga/internal/command"
	"github.com/example/checkout-saga/internal/config"
	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/fulfilment"
	"github.com/example/checkout-saga/internal/infrastructure/kafka"
	"github.com/example/checkout-saga/internal/infrastructure/store"
	"github.com/example/checkout-saga/internal/lock"
	"github.com/example/checkout-saga/internal/payment"
	"github.com/example/checkout-saga/internal/query"
	"github.com/example/checkout-saga/internal/telemetry"
	"github.com/example/checkout-saga/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[API] %v", err)
	}

	log.Println("[API] ========================================")
	log.Println("[API] Checkout Saga Service")
	log.Println("[API] ========================================")
	log.Printf("[API] Order store: %s", cfg.StoreBackend)
	log.Printf("[API] Redis: %s", cfg.RedisAddr)
	log.Printf("[API] Inventory: %s", cfg.InventoryURL)
	log.Printf("[API] Cart: %s", cfg.CartURL)
	log.Printf("[API] Payment: %s", cfg.PaymentURL)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("[API] Failed to initialize tracing: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[API] Failed to connect to Redis: %v", err)
	}
	log.Println("[API] Connected to Redis")
	locker := lock.NewRedisLocker(rdb)

	orders, closeStore, err := store.Open(ctx, store.Backend{
		Kind:                 cfg.StoreBackend,
		DatabaseURL:          cfg.DatabaseURL,
		OrdersTable:          cfg.OrdersTable,
		ProcessedEventsTable: cfg.ProcessedEventsTable,
		Migrate:              true,
	})
	if err != nil {
		log.Fatalf("[API] Failed to open order store: %v", err)
	}
	defer closeStore()

	breaker := clients.DefaultBreakerSettings()
	inventory := clients.NewInventoryClient(cfg.InventoryURL, cfg.ServiceAPIKey, cfg.ClientTimeout, breaker)
	carts := clients.NewCartClient(cfg.CartURL, cfg.ServiceAPIKey, cfg.ClientTimeout, breaker)
	payments := clients.NewPaymentClient(clients.PaymentConfig{
		BaseURL:    cfg.PaymentURL,
		APIKey:     cfg.PaymentAPIKey,
		SuccessURL: cfg.PaymentSuccessURL,
		CancelURL:  cfg.PaymentCancelURL,
		Currency:   cfg.Currency,
		Timeout:    cfg.ClientTimeout,
	}, breaker)

	var publisher domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
		log.Printf("[API] Publishing order events to %s on %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	} else {
		log.Println("[API] KAFKA_BROKERS not set, order events are not published")
	}

	checkout := command.NewCheckoutOrchestrator(locker, carts, inventory, payments, orders,
		command.WithLockTTL(cfg.LockTTL),
		command.WithPublisher(publisher),
		command.WithMetrics(metrics),
	)
	saga := fulfilment.NewSaga(locker, orders, inventory, carts,
		fulfilment.WithLockTTL(cfg.LockTTL),
		fulfilment.WithPublisher(publisher),
		fulfilment.WithMetrics(metrics),
	)
	processor := webhook.NewProcessor(payment.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance), orders, saga, metrics)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, 15*time.Minute)

	router := api.NewRouter(
		api.NewHandlers(checkout, query.NewHandler(orders), processor),
		api.RouterConfig{
			JWT:            jwtService,
			Metrics:        metrics,
			Gatherer:       reg,
			RequestTimeout: cfg.RequestTimeout,
		},
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "checkout-api"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Println("[API] ========================================")
		log.Printf("[API] Server started on %s", cfg.HTTPAddr)
		log.Println("[API] ========================================")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Server shutdown error: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Printf("[API] Tracer shutdown error: %v", err)
	}
}
