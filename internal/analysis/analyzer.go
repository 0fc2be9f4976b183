package analysis

import (
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

// Analyzer computes the DatasetSummary of a table. It holds no state between
// calls and is safe for concurrent use.
type Analyzer struct {
	inferencer Inferencer
}

func NewAnalyzer(inferencer Inferencer) *Analyzer {
	return &Analyzer{inferencer: inferencer}
}

// Analyze runs inference and statistics over every column in header order.
func (a *Analyzer) Analyze(t *Table) (*models.DatasetSummary, error) {
	if err := CheckShape(t); err != nil {
		return nil, err
	}

	cols := make([]InferredColumn, 0, t.NumColumns())
	summary := &models.DatasetSummary{
		RowCount:    t.NumRows(),
		ColumnCount: t.NumColumns(),
		Columns:     make([]models.ColumnSummary, 0, t.NumColumns()),
	}
	for i, name := range t.Header {
		col := a.inferencer.Infer(name, t.Column(i))
		cols = append(cols, col)
		cs := Summarize(col)
		summary.Columns = append(summary.Columns, cs)
		if cs.Type == models.ColumnNumeric {
			summary.NumericColumnsCount++
		} else {
			summary.CategoricalColumnsCount++
		}
		summary.MissingValuesCount += cs.NullCount
	}
	for r := 0; r < t.NumRows(); r++ {
		for c := range cols {
			if !cols[c].Valid(r) {
				summary.RowsWithMissing++
				break
			}
		}
	}
	return summary, nil
}

// CheckShape rejects tables without columns or rows.
func CheckShape(t *Table) error {
	if t == nil || t.NumColumns() == 0 {
		return ErrNoColumns
	}
	if t.NumRows() == 0 {
		return ErrEmptyDataset
	}
	return nil
}
