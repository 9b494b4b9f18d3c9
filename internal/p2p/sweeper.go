// Package p2p - Expiry sweeper.
package p2p

import (
	"context"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
)

// Sweeper expires orders whose payment window closed without payment.
// Each order is handled in its own scope so one bad order never blocks
// the rest, and the from-status guard makes a replayed sweep a no-op.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper creates an expiry sweeper on the engine.
func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: config.SweepInterval,
	}
}

// Run sweeps on the configured cadence until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log := s.engine.log.With("task", "sweeper")
	log.Info("expiry sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			} else if n > 0 {
				log.Info("expired orders", "count", n)
			}
		}
	}
}

// SweepOnce expires all currently due orders and returns how many were
// expired. Per-order failures are logged and skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.engine.store.ListExpiredOrders(ctx, s.engine.clock.Now(), config.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range due {
		if err := s.engine.ExpireOrder(ctx, order.ID); err != nil {
			s.engine.log.Warn("failed to expire order", "order", order.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// ExpireOrder performs the expiry transition for one order in one scope:
// unfreeze the seller's crypto, mark the order expired. Idempotent under
// the from-status guard.
func (e *Engine) ExpireOrder(ctx context.Context, orderID string) error {
	expired := false
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		expired = false
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != storage.OrderStatusAwaitingPayment {
			// Already advanced or terminated; nothing to do.
			return nil
		}
		if order.ExpiresAt == nil || !e.clock.Now().After(*order.ExpiresAt) {
			return nil
		}
		if err := e.expireTx(ctx, tx, order); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return err
	}

	if expired {
		e.emitEvent(orderID, "order_expired", storage.OrderStatusExpired)
	}
	return nil
}

// expireTx performs the expiry inside an existing scope.
func (e *Engine) expireTx(ctx context.Context, tx *storage.Storage, order *storage.Order) error {
	if err := tx.UpdateOrderTransition(ctx, order.ID,
		storage.OrderStatusAwaitingPayment, storage.OrderStatusExpired, nil); err != nil {
		return err
	}
	if err := e.unfreezeSeller(ctx, tx, order); err != nil {
		return err
	}
	order.Status = storage.OrderStatusExpired
	return nil
}
