package plans

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically syncs the plan catalog.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new catalog sync timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Start runs a sync immediately, then on every tick. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.sync(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sync(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sync(ctx context.Context) {
	if _, err := t.service.SyncAll(ctx); err != nil {
		t.logger.Warn("scheduled plan sync failed", "error", err)
	}
}
