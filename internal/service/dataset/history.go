package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/metrics"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/ownerlock"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/storage"
)

const maxEvictionAttempts = 3

// errEvictionRace means a record picked for eviction vanished before it was
// deleted. Enforce retries it and never returns it wrapped.
var errEvictionRace = errors.New("eviction race")

// HistoryManager keeps at most limit processed datasets per owner.
type HistoryManager struct {
	db      *sql.DB
	driver  string
	limit   int
	locker  ownerlock.Locker
	metrics *metrics.Metrics
	onEvict func(ctx context.Context, ownerID int64, ids []int64)
}

func NewHistoryManager(db *sql.DB, driver string, limit int, locker ownerlock.Locker, m *metrics.Metrics) *HistoryManager {
	if limit <= 0 {
		limit = 5
	}
	if locker == nil {
		locker = ownerlock.NewLocal()
	}
	return &HistoryManager{
		db:      db,
		driver:  storage.NormalizeDriver(driver),
		limit:   limit,
		locker:  locker,
		metrics: m,
	}
}

// OnEvict registers fn to run after datasets were evicted and committed.
func (h *HistoryManager) OnEvict(fn func(ctx context.Context, ownerID int64, ids []int64)) {
	h.onEvict = fn
}

func (h *HistoryManager) Limit() int {
	return h.limit
}

// Enforce deletes the owner's oldest processed datasets until at most limit
// remain, returning the evicted ids oldest first.
func (h *HistoryManager) Enforce(ctx context.Context, ownerID int64) ([]int64, error) {
	return h.evict(ctx, ownerID, h.limit, false)
}

// Cleanup keeps the newest keep processed datasets (limit when keep <= 0)
// and drops every failed one.
func (h *HistoryManager) Cleanup(ctx context.Context, ownerID int64, keep int) ([]int64, error) {
	if keep <= 0 {
		keep = h.limit
	}
	return h.evict(ctx, ownerID, keep, true)
}

func (h *HistoryManager) evict(ctx context.Context, ownerID int64, keep int, includeFailed bool) ([]int64, error) {
	var lastErr error
	for attempt := 1; attempt <= maxEvictionAttempts; attempt++ {
		ids, err := h.evictOnce(ctx, ownerID, keep, includeFailed)
		if err == nil {
			if len(ids) > 0 {
				h.metrics.ObserveEvictions(len(ids))
				if h.onEvict != nil {
					h.onEvict(ctx, ownerID, ids)
				}
				debugLog("owner %d: evicted %v", ownerID, ids)
			}
			return ids, nil
		}
		if !errors.Is(err, errEvictionRace) {
			return nil, err
		}
		lastErr = err
		log.Printf("owner %d eviction attempt %d lost a race, retrying", ownerID, attempt)
	}
	// Only the message of the race error leaves this package.
	return nil, fmt.Errorf("owner %d retention not enforced after %d attempts: %v", ownerID, maxEvictionAttempts, lastErr)
}

func (h *HistoryManager) evictOnce(ctx context.Context, ownerID int64, keep int, includeFailed bool) ([]int64, error) {
	unlock, err := h.locker.Lock(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("lock owner %d: %w", ownerID, err)
	}
	defer unlock()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin eviction: %w", err)
	}
	defer tx.Rollback()

	if h.driver == storage.DriverMySQL {
		// Serialises evictions of one owner across processes.
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ? FOR UPDATE`, ownerID).Scan(&id); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock owner row: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM datasets WHERE user_id = ? AND status = ?`, ownerID, models.StatusProcessed,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count datasets: %w", err)
	}

	var victims []int64
	if excess := count - keep; excess > 0 {
		victims, err = selectIDs(ctx, tx,
			`SELECT id FROM datasets WHERE user_id = ? AND status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
			ownerID, models.StatusProcessed, excess)
		if err != nil {
			return nil, err
		}
	}
	if includeFailed {
		failed, err := selectIDs(ctx, tx,
			`SELECT id FROM datasets WHERE user_id = ? AND status = ? ORDER BY created_at ASC, id ASC`,
			ownerID, models.StatusFailed)
		if err != nil {
			return nil, err
		}
		victims = append(victims, failed...)
	}
	if len(victims) == 0 {
		return nil, tx.Commit()
	}

	for _, id := range victims {
		ok, err := deleteDatasetTx(ctx, tx, ownerID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errEvictionRace
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit eviction: %w", err)
	}
	return victims, nil
}

// Status reports the owner's record counts against the retention limit.
func (h *HistoryManager) Status(ctx context.Context, ownerID int64) (*models.HistoryStatus, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM datasets WHERE user_id = ? GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count datasets: %w", err)
	}
	st := &models.HistoryStatus{RetentionLimit: h.limit}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch models.DatasetStatus(status) {
		case models.StatusProcessed:
			st.ProcessedDatasets = n
		case models.StatusPending:
			st.PendingDatasets = n
		case models.StatusFailed:
			st.FailedDatasets = n
		}
		st.TotalDatasets += n
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close status rows: %w", err)
	}
	if st.DatasetsUntilEviction = h.limit - st.ProcessedDatasets; st.DatasetsUntilEviction < 0 {
		st.DatasetsUntilEviction = 0
	}

	if st.OldestCreatedAt, err = h.edgeCreatedAt(ctx, ownerID, "ASC"); err != nil {
		return nil, err
	}
	if st.NewestCreatedAt, err = h.edgeCreatedAt(ctx, ownerID, "DESC"); err != nil {
		return nil, err
	}
	return st, nil
}

// Preview lists the datasets the next processed upload would evict.
func (h *HistoryManager) Preview(ctx context.Context, ownerID int64) ([]models.Dataset, error) {
	var count int
	if err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM datasets WHERE user_id = ? AND status = ?`, ownerID, models.StatusProcessed,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count datasets: %w", err)
	}
	excess := count + 1 - h.limit
	if excess <= 0 {
		return []models.Dataset{}, nil
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC LIMIT ?`, ownerID, models.StatusProcessed, excess)
	if err != nil {
		return nil, fmt.Errorf("preview eviction: %w", err)
	}
	defer rows.Close()
	return scanDatasets(rows)
}

func (h *HistoryManager) edgeCreatedAt(ctx context.Context, ownerID int64, order string) (*time.Time, error) {
	var ts time.Time
	err := h.db.QueryRowContext(ctx,
		`SELECT created_at FROM datasets WHERE user_id = ? ORDER BY created_at `+order+`, id `+order+` LIMIT 1`, ownerID,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset timestamps: %w", err)
	}
	return &ts, nil
}

func selectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select datasets: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dataset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset ids: %w", err)
	}
	return ids, nil
}
