package worker

import (
	"context"
	"time"

	"equipment-booking/internal/store"
	"equipment-booking/internal/util"

	"go.uber.org/zap"
)

// OutboxStore hands out unpublished outbox messages in commit order.
type OutboxStore interface {
	RelayOutbox(ctx context.Context, limit int, publish store.OutboxPublisher) (int, error)
	PendingOutbox(ctx context.Context) (int, error)
}

// OutboxRelay moves committed events from a store's outbox to the bus.
type OutboxRelay struct {
	store    OutboxStore
	publish  store.OutboxPublisher
	name     string
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewOutboxRelay creates a relay for the outbox of the named store.
func NewOutboxRelay(name string, outbox OutboxStore, publish store.OutboxPublisher, interval time.Duration, batch int) *OutboxRelay {
	if batch < 1 {
		batch = 100
	}
	return &OutboxRelay{
		store:    outbox,
		publish:  publish,
		name:     name,
		interval: interval,
		batch:    batch,
		logger:   util.Named("outbox").With(zap.String("store", name)),
	}
}

// Run polls the outbox until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			r.drain(ctx)
			r.reportBacklog(ctx)
		}
	}
}

// drain relays full batches until the outbox runs dry or a publish fails.
func (r *OutboxRelay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.store.RelayOutbox(ctx, r.batch, r.publish)
		if n > 0 {
			util.OutboxRelayedTotal.WithLabelValues(r.name).Add(float64(n))
		}
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("Outbox relay interrupted", zap.Int("relayed", n), zap.Error(err))
			}
			return
		}
		if n < r.batch {
			return
		}
	}
}

func (r *OutboxRelay) reportBacklog(ctx context.Context) {
	n, err := r.store.PendingOutbox(ctx)
	if err != nil {
		return
	}
	util.OutboxPending.WithLabelValues(r.name).Set(float64(n))
}
