package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/infrastructure/store"
)

// Sagas is the part of the fulfilment saga the reconciler drives.
type Sagas interface {
	Run(ctx context.Context, orderID string) (*order.Order, error)
	Expire(ctx context.Context, orderID string) (bool, error)
}

type Config struct {
	// PendingOrderTTL is how long a PENDING order may wait for payment.
	// It must exceed the payment session lifetime.
	PendingOrderTTL time.Duration
	// ResumeAfter is how long a saga may sit mid-flight before it is
	// considered abandoned and resumed.
	ResumeAfter time.Duration
	Interval    time.Duration
	BatchSize   int
}

// Report summarizes one sweep.
type Report struct {
	Scanned int
	Resumed int
	Expired int
	Failed  int
}

// Reconciler finishes abandoned fulfilment sagas, including paid orders
// still waiting for stock, and expires stale unpaid orders.
type Reconciler struct {
	orders store.OrderStore
	sagas  Sagas
	cfg    Config
	now    func() time.Time
}

func NewReconciler(orders store.OrderStore, sagas Sagas, cfg Config) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ResumeAfter <= 0 {
		cfg.ResumeAfter = 2 * time.Minute
	}
	return &Reconciler{orders: orders, sagas: sagas, cfg: cfg, now: time.Now}
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil {
			log.Printf("[Reconciler] Sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep processes one batch of unsettled orders. Per-order failures are
// logged and counted; they do not stop the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var report Report
	now := r.now()

	// ResumeAfter is the shorter cutoff; expiry is checked per order.
	orders, err := r.orders.ListUnsettled(ctx, now.Add(-r.cfg.ResumeAfter), r.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list unsettled orders: %w", err)
	}
	report.Scanned = len(orders)

	for _, o := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		switch {
		// A confirmed payment whose stock check failed is retried, never expired.
		case o.InFlight() || o.PaymentConfirmed():
			log.Printf("[Reconciler] Resuming order %s from step %q", o.ID, o.FulfilmentStep)
			if _, err := r.sagas.Run(ctx, o.ID); err != nil {
				log.Printf("[Reconciler] Failed to resume order %s: %v", o.ID, err)
				report.Failed++
				continue
			}
			report.Resumed++

		case o.Status == order.StatusPending && o.UpdatedAt.Before(now.Add(-r.cfg.PendingOrderTTL)):
			expired, err := r.sagas.Expire(ctx, o.ID)
			if err != nil {
				log.Printf("[Reconciler] Failed to expire order %s: %v", o.ID, err)
				report.Failed++
				continue
			}
			if expired {
				report.Expired++
			}
		}
	}

	if report.Resumed+report.Expired+report.Failed > 0 {
		log.Printf("[Reconciler] Sweep: scanned=%d resumed=%d expired=%d failed=%d",
			report.Scanned, report.Resumed, report.Expired, report.Failed)
	}
	return report, nil
}
