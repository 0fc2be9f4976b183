package dataset

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

const DefaultSweepInterval = 5 * time.Minute

// Sweeper fails datasets stuck in pending, e.g. after a crash mid-analysis,
// and drops failed datasets older than the retention window.
type Sweeper struct {
	store           *Store
	pendingTimeout  time.Duration
	failedRetention time.Duration
}

// NewSweeper builds a sweeper. A zero failedRetention keeps failed records.
func NewSweeper(store *Store, pendingTimeout, failedRetention time.Duration) *Sweeper {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultAnalysisTimeout
	}
	return &Sweeper{store: store, pendingTimeout: pendingTimeout, failedRetention: failedRetention}
}

func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.loop(ctx, interval)
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				log.Printf("sweep datasets error: %v", err)
			}
		}
	}
}

// Sweep runs one pass relative to now and reports how many records were
// failed and removed.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (failed, removed int64, err error) {
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE datasets SET status = ?, error_message = ? WHERE status = ? AND created_at <= ?`,
		models.StatusFailed, timeoutReason, models.StatusPending, now.Add(-s.pendingTimeout).UTC(),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale datasets: %w", err)
	}
	if failed, err = res.RowsAffected(); err != nil {
		return 0, 0, fmt.Errorf("rows affected: %w", err)
	}
	if s.failedRetention <= 0 {
		return failed, 0, nil
	}
	// Failed records never get a summary, so no child rows to delete.
	res, err = s.store.db.ExecContext(ctx,
		`DELETE FROM datasets WHERE status = ? AND created_at <= ?`,
		models.StatusFailed, now.Add(-s.failedRetention).UTC(),
	)
	if err != nil {
		return failed, 0, fmt.Errorf("remove failed datasets: %w", err)
	}
	if removed, err = res.RowsAffected(); err != nil {
		return failed, 0, fmt.Errorf("rows affected: %w", err)
	}
	if failed > 0 || removed > 0 {
		log.Printf("sweeper: %d stale datasets failed, %d failed datasets removed", failed, removed)
	}
	return failed, removed, nil
}
