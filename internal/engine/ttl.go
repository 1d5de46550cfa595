package engine

import (
	"context"
	"log/slog"
	"time"
)

// StartIdleWorker stops the engine container after idleTTL with no activity.
// Runs until ctx is canceled. The engine is recreated on demand by the next
// chat request, so stopping it only costs the next caller a cold start.
func StartIdleWorker(ctx context.Context, mgr Manager, idleTTL time.Duration) {
	interval := idleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stopIfIdle(ctx, mgr, idleTTL)
			}
		}
	}()
}

// stopIfIdle performs one idle check, stopping the engine when it has been
// unused for at least idleTTL.
func stopIfIdle(ctx context.Context, mgr Manager, idleTTL time.Duration) {
	idle := time.Since(mgr.LastUsed())
	if idle < idleTTL {
		return
	}

	running, err := mgr.IsRunning(ctx)
	if err != nil {
		slog.Warn("Idle worker failed to inspect engine", "error", err)
		return
	}
	if !running {
		return
	}

	slog.Info("Stopping idle engine container", "idle", idle, "ttl", idleTTL)
	if err := mgr.StopEngine(ctx); err != nil {
		slog.Warn("Idle worker failed to stop engine", "error", err)
	}
}
