package models

import "time"

// DatasetStatus is the processing state of an uploaded dataset.
type DatasetStatus string

const (
	StatusPending   DatasetStatus = "pending"
	StatusProcessed DatasetStatus = "processed"
	StatusFailed    DatasetStatus = "failed"
)

// CanTransition reports whether a dataset may move from s to next.
// Only pending records move, and only forward.
func (s DatasetStatus) CanTransition(next DatasetStatus) bool {
	return s == StatusPending && (next == StatusProcessed || next == StatusFailed)
}

// ColumnInfo is a column name with its inferred type; Type is empty until
// analysis has run.
type ColumnInfo struct {
	Name string     `json:"name"`
	Type ColumnKind `json:"type,omitempty"`
}

// Dataset is an uploaded table owned by one user.
type Dataset struct {
	ID           int64         `json:"id"`
	UserID       int64         `json:"user_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	FileName     string        `json:"file_name"`
	FileType     string        `json:"file_type"`
	FileSize     int64         `json:"file_size"`
	RowCount     int           `json:"row_count"`
	ColumnCount  int           `json:"column_count"`
	Columns      []ColumnInfo  `json:"columns"`
	Status       DatasetStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

// HistoryStatus describes how close an owner is to the retention limit.
type HistoryStatus struct {
	TotalDatasets         int        `json:"total_datasets"`
	ProcessedDatasets     int        `json:"processed_datasets"`
	PendingDatasets       int        `json:"pending_datasets"`
	FailedDatasets        int        `json:"failed_datasets"`
	RetentionLimit        int        `json:"retention_limit"`
	DatasetsUntilEviction int        `json:"datasets_until_eviction"`
	OldestCreatedAt       *time.Time `json:"oldest_created_at"`
	NewestCreatedAt       *time.Time `json:"newest_created_at"`
}
