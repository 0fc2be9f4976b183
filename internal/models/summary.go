package models

import "time"

type ColumnKind string

const (
	ColumnNumeric     ColumnKind = "numeric"
	ColumnCategorical ColumnKind = "categorical"
)

// ValueCount pairs a categorical value with its occurrence count.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// NumericStats holds descriptive statistics of a numeric column. Every field
// is nil when the column has no usable values; Std is nil below two values.
type NumericStats struct {
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	Std    *float64 `json:"std"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Q25    *float64 `json:"q25"`
	Q75    *float64 `json:"q75"`
}

type CategoricalStats struct {
	DistinctCount     int            `json:"distinct_count"`
	MostFrequent      *string        `json:"most_frequent"`
	MostFrequentCount int            `json:"most_frequent_count"`
	Frequencies       map[string]int `json:"frequencies"`
	TopValues         []ValueCount   `json:"top_values"`
}

// ColumnSummary is the per-column part of a DatasetSummary.
type ColumnSummary struct {
	Name         string            `json:"name"`
	Type         ColumnKind        `json:"type"`
	NonNullCount int               `json:"non_null_count"`
	NullCount    int               `json:"null_count"`
	UniqueCount  int               `json:"unique_count"`
	Numeric      *NumericStats     `json:"numeric,omitempty"`
	Categorical  *CategoricalStats `json:"categorical,omitempty"`
}

// DatasetSummary is the immutable analysis result of one dataset.
type DatasetSummary struct {
	DatasetID               int64             `json:"dataset_id"`
	RowCount                int               `json:"row_count"`
	ColumnCount             int               `json:"column_count"`
	Columns                 []ColumnSummary   `json:"columns"`
	NumericColumnsCount     int               `json:"numeric_columns_count"`
	CategoricalColumnsCount int               `json:"categorical_columns_count"`
	MissingValuesCount      int               `json:"missing_values_count"`
	RowsWithMissing         int               `json:"rows_with_missing"`
	Equipment               *EquipmentMetrics `json:"equipment,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
}

// CompleteRows is the number of rows without any missing field.
func (s *DatasetSummary) CompleteRows() int {
	return s.RowCount - s.RowsWithMissing
}

// ColumnInfos lists the columns with their inferred types, in header order.
func (s *DatasetSummary) ColumnInfos() []ColumnInfo {
	out := make([]ColumnInfo, 0, len(s.Columns))
	for _, col := range s.Columns {
		out = append(out, ColumnInfo{Name: col.Name, Type: col.Type})
	}
	return out
}

// OperationalStats summarises one operational role (flowrate, pressure, temperature).
type OperationalStats struct {
	Column       string   `json:"column"`
	Average      *float64 `json:"average"`
	Median       *float64 `json:"median"`
	StdDeviation *float64 `json:"std_deviation"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	Count        int      `json:"count"`
	MissingCount int      `json:"missing_count"`
}

// TypeBreakdown holds the per-equipment-type mean and sample standard
// deviation of each operational role. Std is nil below two values.
type TypeBreakdown struct {
	Count          int      `json:"count"`
	AvgFlowrate    *float64 `json:"avg_flowrate"`
	AvgPressure    *float64 `json:"avg_pressure"`
	AvgTemperature *float64 `json:"avg_temperature"`
	StdFlowrate    *float64 `json:"std_flowrate"`
	StdPressure    *float64 `json:"std_pressure"`
	StdTemperature *float64 `json:"std_temperature"`
}

// EquipmentMetrics are the domain aggregates of an equipment dataset.
// Types lists category labels in first-seen order.
type EquipmentMetrics struct {
	TotalRecords     int                         `json:"total_records"`
	AvgFlowrate      *float64                    `json:"avg_flowrate"`
	AvgPressure      *float64                    `json:"avg_pressure"`
	AvgTemperature   *float64                    `json:"avg_temperature"`
	Operational      map[string]OperationalStats `json:"operational"`
	TypeDistribution map[string]int              `json:"type_distribution"`
	TypePercentages  map[string]float64          `json:"type_percentages"`
	Types            []string                    `json:"types"`
	TotalCategories  int                         `json:"total_categories"`
	MostCommonType   *string                     `json:"most_common_type"`
	ByType           map[string]TypeBreakdown    `json:"by_type"`
	ColumnMapping    map[string]string           `json:"column_mapping"`
}
