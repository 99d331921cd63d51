package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bktiel/rpchat/internal/metrics"
)

// startMetricsLogger periodically logs a metrics snapshot, for deployments
// without a Prometheus scraper.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"accepted", snap.Accepted,
					"registered", snap.Registered,
					"rejected", snap.Rejected,
					"relayed", snap.Relayed,
					"errors", snap.Errors,
					"disconnected", snap.Disconnected,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
