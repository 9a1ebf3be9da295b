package notification

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs ExpireSweep on a fixed interval, independent of requests.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		if _, err := sw.svc.ExpireSweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("expire sweep", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
