// Package report flattens a stored dataset analysis into the structure handed
// to renderers, and renders a plain-text version of it.
package report

import (
	"errors"
	"time"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

// Report is the renderer-facing view of one processed dataset.
type Report struct {
	Dataset     Metadata               `json:"dataset"`
	Columns     []models.ColumnSummary `json:"columns"`
	Equipment   *Equipment             `json:"equipment,omitempty"`
	DataQuality DataQuality            `json:"data_quality"`
	GeneratedAt time.Time              `json:"generated_at"`
}

type Metadata struct {
	ID                      int64                `json:"id"`
	Name                    string               `json:"name"`
	Description             string               `json:"description"`
	FileName                string               `json:"file_name"`
	FileType                string               `json:"file_type"`
	FileSize                int64                `json:"file_size"`
	RowCount                int                  `json:"row_count"`
	ColumnCount             int                  `json:"column_count"`
	NumericColumnsCount     int                  `json:"numeric_columns_count"`
	CategoricalColumnsCount int                  `json:"categorical_columns_count"`
	Status                  models.DatasetStatus `json:"status"`
	CreatedAt               time.Time            `json:"created_at"`
	ProcessedAt             *time.Time           `json:"processed_at,omitempty"`
}

// Equipment carries the equipment averages and the type distribution, the
// latter ordered by count with ties in first-seen order.
type Equipment struct {
	TotalRecords    int                                `json:"total_records"`
	AvgFlowrate     *float64                           `json:"avg_flowrate"`
	AvgPressure     *float64                           `json:"avg_pressure"`
	AvgTemperature  *float64                           `json:"avg_temperature"`
	TotalCategories int                                `json:"total_categories"`
	MostCommonType  *string                            `json:"most_common_type"`
	Distribution    []TypeShare                        `json:"distribution"`
	Operational     map[string]models.OperationalStats `json:"operational"`
	ByType          map[string]models.TypeBreakdown    `json:"by_type"`
	ColumnMapping   map[string]string                  `json:"column_mapping"`
}

type TypeShare struct {
	Type       string  `json:"type"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type DataQuality struct {
	TotalRows         int            `json:"total_rows"`
	RowsWithMissing   int            `json:"rows_with_missing"`
	CompleteRows      int            `json:"complete_rows"`
	MissingValues     int            `json:"missing_values"`
	MissingPercentage float64        `json:"missing_percentage"`
	MissingByColumn   map[string]int `json:"missing_by_column"`
}

var ErrIncomplete = errors.New("report needs a processed dataset and its summary")

// Assemble builds the report of rec from its stored summary. It does no I/O.
func Assemble(rec *models.Dataset, summary *models.DatasetSummary) (*Report, error) {
	if rec == nil || summary == nil || rec.Status != models.StatusProcessed {
		return nil, ErrIncomplete
	}
	rep := &Report{
		Dataset: Metadata{
			ID:                      rec.ID,
			Name:                    rec.Name,
			Description:             rec.Description,
			FileName:                rec.FileName,
			FileType:                rec.FileType,
			FileSize:                rec.FileSize,
			RowCount:                summary.RowCount,
			ColumnCount:             summary.ColumnCount,
			NumericColumnsCount:     summary.NumericColumnsCount,
			CategoricalColumnsCount: summary.CategoricalColumnsCount,
			Status:                  rec.Status,
			CreatedAt:               rec.CreatedAt,
			ProcessedAt:             rec.ProcessedAt,
		},
		Columns:     append([]models.ColumnSummary(nil), summary.Columns...),
		DataQuality: dataQuality(summary),
		GeneratedAt: time.Now().UTC(),
	}
	if summary.Equipment != nil {
		rep.Equipment = equipment(summary.Equipment)
	}
	return rep, nil
}

func dataQuality(summary *models.DatasetSummary) DataQuality {
	dq := DataQuality{
		TotalRows:       summary.RowCount,
		RowsWithMissing: summary.RowsWithMissing,
		CompleteRows:    summary.CompleteRows(),
		MissingValues:   summary.MissingValuesCount,
		MissingByColumn: make(map[string]int, len(summary.Columns)),
	}
	for _, col := range summary.Columns {
		dq.MissingByColumn[col.Name] = col.NullCount
	}
	if cells := summary.RowCount * summary.ColumnCount; cells > 0 {
		dq.MissingPercentage = float64(summary.MissingValuesCount) / float64(cells) * 100
	}
	return dq
}

func equipment(m *models.EquipmentMetrics) *Equipment {
	eq := &Equipment{
		TotalRecords:    m.TotalRecords,
		AvgFlowrate:     m.AvgFlowrate,
		AvgPressure:     m.AvgPressure,
		AvgTemperature:  m.AvgTemperature,
		TotalCategories: m.TotalCategories,
		MostCommonType:  m.MostCommonType,
		Distribution:    make([]TypeShare, 0, len(m.Types)),
		Operational:     m.Operational,
		ByType:          m.ByType,
		ColumnMapping:   m.ColumnMapping,
	}
	for _, typ := range analysis.RankedTypes(m) {
		eq.Distribution = append(eq.Distribution, TypeShare{
			Type:       typ,
			Count:      m.TypeDistribution[typ],
			Percentage: m.TypePercentages[typ],
		})
	}
	return eq
}
