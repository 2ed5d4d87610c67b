package worker

import (
	"context"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	leaderLockKey  = "marketplace:sweeper:lock"
	zatcaPollLimit = 50
)

// Sweeper runs the periodic lifecycle maintenance: expiring requests and
// bids, cancelling unpaid orders, auto-completing delivered ones, flagging
// and cancelling overdue invoices, and polling pending tax clearances.
// Every rule carries its status precondition in the UPDATE itself, so an
// overlapping run on another instance is harmless; the redis lock just
// avoids duplicate work.
type Sweeper struct {
	services *service.Services
	rdb      *redis.Client
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(services *service.Services, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *Sweeper {
	interval := cfg.Marketplace.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		services: services,
		rdb:      rdb,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until the context is cancelled. One sweep runs immediately on
// start, then one per interval.
func (w *Sweeper) Run(ctx context.Context) {
	w.logger.Info("sweeper started", zap.Duration("interval", w.interval))

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	if !w.acquireLock(ctx) {
		return
	}
	defer w.releaseLock(ctx)

	start := time.Now()

	requests, bids, err := w.services.Bid.SweepExpired(ctx)
	if err != nil {
		w.logger.Error("expiry sweep failed", zap.Error(err))
	}

	cancelled, completed, err := w.services.Order.SweepOverdue(ctx)
	if err != nil {
		w.logger.Error("order sweep failed", zap.Error(err))
	}

	overdue, voided, err := w.services.Invoice.SweepOverdue(ctx)
	if err != nil {
		w.logger.Error("invoice sweep failed", zap.Error(err))
	}

	cleared, err := w.services.Invoice.PollZatca(ctx, zatcaPollLimit)
	if err != nil {
		w.logger.Error("clearance polling failed", zap.Error(err))
	}

	w.logger.Info("sweep finished",
		zap.Int64("requests_expired", requests),
		zap.Int64("bids_expired", bids),
		zap.Int64("orders_cancelled", cancelled),
		zap.Int64("orders_completed", completed),
		zap.Int64("invoices_overdue", overdue),
		zap.Int64("invoices_cancelled", voided),
		zap.Int("clearances_resolved", cleared),
		zap.Duration("took", time.Since(start)),
	)
}

// acquireLock takes the cross-instance leader lock for one sweep. Without
// redis the sweep runs unconditionally.
func (w *Sweeper) acquireLock(ctx context.Context) bool {
	if w.rdb == nil {
		return true
	}
	ok, err := w.rdb.SetNX(ctx, leaderLockKey, 1, w.interval).Result()
	if err != nil {
		w.logger.Warn("sweeper lock unavailable, running anyway", zap.Error(err))
		return true
	}
	return ok
}

func (w *Sweeper) releaseLock(ctx context.Context) {
	if w.rdb == nil {
		return
	}
	if err := w.rdb.Del(ctx, leaderLockKey).Err(); err != nil {
		w.logger.Warn("sweeper lock release failed", zap.Error(err))
	}
}
