package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/storage"
)

var (
	ErrNotFound          = errors.New("dataset not found")
	ErrNotProcessed      = errors.New("dataset has not been processed")
	ErrInvalidTransition = errors.New("invalid dataset status transition")
)

const datasetColumns = `id, user_id, name, description, file_name, file_type, file_size,
	row_count, column_count, columns, status, error_message, created_at, processed_at`

// Store persists dataset records and their derived summaries.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: storage.NormalizeDriver(driver)}
}

// CreatePending inserts rec as a pending dataset and fills in its id and
// creation time.
func (s *Store) CreatePending(ctx context.Context, rec *models.Dataset) error {
	if rec == nil || rec.UserID <= 0 {
		return errors.New("dataset owner is required")
	}
	if rec.Columns == nil {
		rec.Columns = []models.ColumnInfo{}
	}
	if rec.ColumnCount != len(rec.Columns) {
		return fmt.Errorf("column count %d does not match %d columns", rec.ColumnCount, len(rec.Columns))
	}
	cols, err := json.Marshal(rec.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (user_id, name, description, file_name, file_type, file_size,
			row_count, column_count, columns, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
		rec.UserID, rec.Name, rec.Description, rec.FileName, rec.FileType, rec.FileSize,
		rec.RowCount, rec.ColumnCount, string(cols), models.StatusPending, now,
	)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("dataset id: %w", err)
	}
	rec.ID = id
	rec.Status = models.StatusPending
	rec.ErrorMessage = ""
	rec.CreatedAt = now
	rec.ProcessedAt = nil
	return nil
}

// Get returns the dataset when it belongs to ownerID.
func (s *Store) Get(ctx context.Context, ownerID, id int64) (*models.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE id = ? AND user_id = ?`, id, ownerID)
	rec, err := scanDataset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return rec, nil
}

// ListByOwner returns the owner's datasets, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]models.Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()
	return scanDatasets(rows)
}

// ReportableDataset is a processed dataset whose summary is stored.
type ReportableDataset struct {
	models.Dataset
	HasEquipment bool
}

// ListReportable lists the owner's datasets a report can be built for,
// newest first.
func (s *Store) ListReportable(ctx context.Context, ownerID int64) ([]ReportableDataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+datasetColumns+`,
		        EXISTS (SELECT 1 FROM equipment_metrics m WHERE m.dataset_id = datasets.id)
		 FROM datasets
		 WHERE user_id = ? AND status = ?
		   AND EXISTS (SELECT 1 FROM dataset_summaries ds WHERE ds.dataset_id = datasets.id)
		 ORDER BY created_at DESC, id DESC`, ownerID, models.StatusProcessed)
	if err != nil {
		return nil, fmt.Errorf("list reportable datasets: %w", err)
	}
	defer rows.Close()

	var out []ReportableDataset
	for rows.Next() {
		var hasEquipment bool
		rec, err := scanDataset(extraScanner{row: rows, extra: []any{&hasEquipment}})
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, ReportableDataset{Dataset: *rec, HasEquipment: hasEquipment})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return out, nil
}

// Delete removes one of the owner's datasets together with its summary and
// equipment metrics.
func (s *Store) Delete(ctx context.Context, ownerID, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	ok, err := deleteDatasetTx(ctx, tx, ownerID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// MarkProcessed moves a pending dataset to processed and stores its summary
// in the same transaction. Anything but a pending record yields
// ErrInvalidTransition and leaves the store untouched.
func (s *Store) MarkProcessed(ctx context.Context, id int64, summary *models.DatasetSummary) error {
	if summary == nil {
		return errors.New("summary is required")
	}
	cols, err := json.Marshal(summary.ColumnInfos())
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	stats, err := json.Marshal(summary.Columns)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	now := time.Now().UTC()
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	summary.DatasetID = id

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark processed: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE datasets SET status = ?, row_count = ?, column_count = ?, columns = ?, error_message = '', processed_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusProcessed, summary.RowCount, summary.ColumnCount, string(cols), now,
		id, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dataset_summaries (dataset_id, numeric_columns_count, categorical_columns_count,
			missing_values_count, rows_with_missing, statistics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, summary.NumericColumnsCount, summary.CategoricalColumnsCount,
		summary.MissingValuesCount, summary.RowsWithMissing, string(stats), summary.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	if eq := summary.Equipment; eq != nil {
		payload, err := json.Marshal(eq)
		if err != nil {
			return fmt.Errorf("encode equipment metrics: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO equipment_metrics (dataset_id, total_records, avg_flowrate, avg_pressure,
				avg_temperature, most_common_type, metrics)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, eq.TotalRecords, nullFloat(eq.AvgFlowrate), nullFloat(eq.AvgPressure),
			nullFloat(eq.AvgTemperature), nullString(eq.MostCommonType), string(payload),
		); err != nil {
			return fmt.Errorf("insert equipment metrics: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark processed: %w", err)
	}
	return nil
}

// MarkFailed moves a pending dataset to failed with reason.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "analysis failed"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET status = ?, error_message = ? WHERE id = ? AND status = ?`,
		models.StatusFailed, reason, id, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// GetSummary loads the stored summary of a processed dataset.
func (s *Store) GetSummary(ctx context.Context, ownerID, id int64) (*models.DatasetSummary, error) {
	rec, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusProcessed {
		return nil, ErrNotProcessed
	}

	summary := &models.DatasetSummary{
		DatasetID:   rec.ID,
		RowCount:    rec.RowCount,
		ColumnCount: rec.ColumnCount,
	}
	var stats string
	err = s.db.QueryRowContext(ctx,
		`SELECT numeric_columns_count, categorical_columns_count, missing_values_count,
			rows_with_missing, statistics, created_at
		 FROM dataset_summaries WHERE dataset_id = ?`, id,
	).Scan(&summary.NumericColumnsCount, &summary.CategoricalColumnsCount, &summary.MissingValuesCount,
		&summary.RowsWithMissing, &stats, &summary.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// evicted between the two reads
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get summary: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &summary.Columns); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}

	var payload string
	err = s.db.QueryRowContext(ctx, `SELECT metrics FROM equipment_metrics WHERE dataset_id = ?`, id).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("get equipment metrics: %w", err)
	default:
		var eq models.EquipmentMetrics
		if err := json.Unmarshal([]byte(payload), &eq); err != nil {
			return nil, fmt.Errorf("decode equipment metrics: %w", err)
		}
		summary.Equipment = &eq
	}
	return summary, nil
}

func deleteDatasetTx(ctx context.Context, tx *sql.Tx, ownerID, id int64) (bool, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM equipment_metrics WHERE dataset_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete equipment metrics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_summaries WHERE dataset_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete summary: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// extraScanner scans trailing columns after the dataset ones.
type extraScanner struct {
	row   rowScanner
	extra []any
}

func (e extraScanner) Scan(dest ...any) error {
	return e.row.Scan(append(dest, e.extra...)...)
}

func scanDataset(row rowScanner) (*models.Dataset, error) {
	var (
		rec       models.Dataset
		cols      string
		status    string
		processed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Description, &rec.FileName, &rec.FileType,
		&rec.FileSize, &rec.RowCount, &rec.ColumnCount, &cols, &status, &rec.ErrorMessage,
		&rec.CreatedAt, &processed); err != nil {
		return nil, err
	}
	rec.Status = models.DatasetStatus(status)
	if err := json.Unmarshal([]byte(cols), &rec.Columns); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	if processed.Valid {
		t := processed.Time
		rec.ProcessedAt = &t
	}
	return &rec, nil
}

func scanDatasets(rows *sql.Rows) ([]models.Dataset, error) {
	var out []models.Dataset
	for rows.Next() {
		rec, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
