package history

import (
	"context"
	"time"
)

// Logger is the logging surface the pruner needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// RunPruner calls Prune(retention) every interval until ctx is cancelled.
// The first prune runs immediately.
func (r *SQLiteRepository) RunPruner(ctx context.Context, retention, interval time.Duration, logger Logger) {
	prune := func() {
		n, err := r.Prune(ctx, retention)
		if logger == nil {
			return
		}
		if err != nil {
			logger.Warn("history prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("history pruned", "rows", n, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
