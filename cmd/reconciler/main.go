package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/checkout-saga/internal/clients"
	"github.com/example/checkout-saga/internal/config"
	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/fulfilment"
	"github.com/example/checkout-saga/internal/infrastructure/kafka"
	"github.com/example/checkout-saga/internal/infrastructure/store"
	"github.com/example/checkout-saga/internal/lock"
	"github.com/example/checkout-saga/internal/reconcile"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("[Reconciler] %v", err)
	}

	log.Println("[Reconciler] ========================================")
	log.Println("[Reconciler] Checkout Saga - Order Reconciler")
	log.Println("[Reconciler] ========================================")
	log.Printf("[Reconciler] Order store: %s", cfg.StoreBackend)
	log.Printf("[Reconciler] Interval: %s", cfg.ReconcileInterval)
	log.Printf("[Reconciler] Pending order TTL: %s", cfg.PendingOrderTTL)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Reconciler] Failed to connect to Redis: %v", err)
	}

	// The API owns migrations.
	orders, closeStore, err := store.Open(ctx, store.Backend{
		Kind:                 cfg.StoreBackend,
		DatabaseURL:          cfg.DatabaseURL,
		OrdersTable:          cfg.OrdersTable,
		ProcessedEventsTable: cfg.ProcessedEventsTable,
	})
	if err != nil {
		log.Fatalf("[Reconciler] Failed to open order store: %v", err)
	}
	defer closeStore()

	breaker := clients.DefaultBreakerSettings()
	inventory := clients.NewInventoryClient(cfg.InventoryURL, cfg.ServiceAPIKey, cfg.ClientTimeout, breaker)
	carts := clients.NewCartClient(cfg.CartURL, cfg.ServiceAPIKey, cfg.ClientTimeout, breaker)

	var publisher domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	saga := fulfilment.NewSaga(lock.NewRedisLocker(rdb), orders, inventory, carts,
		fulfilment.WithLockTTL(cfg.LockTTL),
		fulfilment.WithPublisher(publisher),
	)
	reconciler := reconcile.NewReconciler(orders, saga, reconcile.Config{
		PendingOrderTTL: cfg.PendingOrderTTL,
		Interval:        cfg.ReconcileInterval,
		BatchSize:       cfg.ReconcileBatch,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Println("[Reconciler] Starting sweeps...")
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Reconciler] Stopped: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Reconciler] Shutting down...")
	cancel()
	<-done
}
