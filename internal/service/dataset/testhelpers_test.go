package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/config"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/ownerlock"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/storage"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/worker"
)

const equipmentCSV = `id,Type,Flow_Rate,PRESSURE,temp
P-1,Pump,120,5.2,110
P-2,Pump,80,5.0,100
V-1,Valve,60,4.1,95
C-1,Compressor,,8.0,150
`

type testEnv struct {
	db       *sql.DB
	store    *Store
	history  *HistoryManager
	workers  *worker.Manager
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, limit int, timeout time.Duration) *testEnv {
	t.Helper()
	return newTestEnvWithLocker(t, limit, timeout, ownerlock.NewLocal())
}

func newTestEnvWithLocker(t *testing.T, limit int, timeout time.Duration, locker ownerlock.Locker) *testEnv {
	t.Helper()
	db := openTestDB(t)
	workers := worker.NewManager(worker.DispatcherConfig{
		MinWorkers:        1,
		MaxWorkers:        4,
		QueueSize:         64,
		WorkerIdleTimeout: time.Minute,
	})
	store := NewStore(db, storage.DriverSQLite)
	history := NewHistoryManager(db, storage.DriverSQLite, limit, locker, nil)
	extractor := analysis.NewEquipmentExtractor(
		analysis.NewAnalyzer(analysis.NewInferencer(0)),
		analysis.NewResolver(nil),
	)
	env := &testEnv{
		db:       db,
		store:    store,
		history:  history,
		workers:  workers,
		pipeline: NewPipeline(store, history, extractor, workers, nil, timeout),
	}
	t.Cleanup(func() {
		workers.Close()
		db.Close()
	})
	return env
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, fmt.Sprintf("user_%d", id), time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func (e *testEnv) ingest(t *testing.T, ownerID int64, name string) *Result {
	t.Helper()
	res, err := e.pipeline.Ingest(context.Background(), Upload{
		OwnerID:  ownerID,
		Name:     name,
		FileName: name + ".csv",
		Data:     []byte(equipmentCSV),
		Strict:   true,
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", name, err)
	}
	return res
}

func datasetCount(t *testing.T, db *sql.DB, ownerID int64) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM datasets WHERE user_id = ?`, ownerID).Scan(&n); err != nil {
		t.Fatalf("count datasets: %v", err)
	}
	return n
}
