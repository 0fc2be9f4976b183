package analysis

import (
	"math"
	"sort"
	"strings"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

var operationalRoles = []Role{RoleFlowrate, RolePressure, RoleTemperature}

// EquipmentExtractor runs the general analysis and adds equipment metrics.
type EquipmentExtractor struct {
	analyzer *Analyzer
	resolver *Resolver
}

func NewEquipmentExtractor(analyzer *Analyzer, resolver *Resolver) *EquipmentExtractor {
	return &EquipmentExtractor{analyzer: analyzer, resolver: resolver}
}

// Resolver exposes the role resolver used for extraction and validation.
func (e *EquipmentExtractor) Resolver() *Resolver {
	return e.resolver
}

// Validate checks a table before a record is created. With strict set every
// required role must resolve.
func (e *EquipmentExtractor) Validate(t *Table, strict bool) error {
	if err := CheckShape(t); err != nil {
		return err
	}
	if !strict {
		return nil
	}
	return e.resolver.Resolve(t.Header).Err()
}

// Analyze returns the dataset summary with its EquipmentMetrics attached.
func (e *EquipmentExtractor) Analyze(t *Table) (*models.DatasetSummary, error) {
	summary, err := e.analyzer.Analyze(t)
	if err != nil {
		return nil, err
	}
	summary.Equipment = ExtractEquipment(t, e.resolver.Resolve(t.Header))
	return summary, nil
}

// ExtractEquipment computes the equipment aggregates of t. Unresolved roles
// leave their fields nil or empty. Negative flowrates are treated as entry
// errors and excluded.
func ExtractEquipment(t *Table, res Resolution) *models.EquipmentMetrics {
	m := &models.EquipmentMetrics{
		TotalRecords:     t.NumRows(),
		Operational:      make(map[string]models.OperationalStats),
		TypeDistribution: make(map[string]int),
		TypePercentages:  make(map[string]float64),
		Types:            []string{},
		ByType:           make(map[string]models.TypeBreakdown),
		ColumnMapping:    res.StringMapping(),
	}

	// values[role][row] is nil where the cell is missing or invalid.
	values := make(map[Role][]*float64, len(operationalRoles))
	for _, role := range operationalRoles {
		header, ok := res.Header(role)
		if !ok {
			continue
		}
		idx := t.ColumnIndex(header)
		if idx < 0 {
			continue
		}
		cells := make([]*float64, t.NumRows())
		var valid []float64
		for r, row := range t.Rows {
			v, ok := ParseNumber(row[idx])
			if !ok || (role == RoleFlowrate && v < 0) {
				continue
			}
			cells[r] = floatPtr(v)
			valid = append(valid, v)
		}
		values[role] = cells
		stats := operationalStats(header, valid, t.NumRows())
		m.Operational[string(role)] = stats
		switch role {
		case RoleFlowrate:
			m.AvgFlowrate = stats.Average
		case RolePressure:
			m.AvgPressure = stats.Average
		case RoleTemperature:
			m.AvgTemperature = stats.Average
		}
	}

	header, ok := res.Header(RoleEquipmentType)
	if !ok {
		return m
	}
	idx := t.ColumnIndex(header)
	if idx < 0 {
		return m
	}

	validRows := 0
	rowsByType := make(map[string][]int)
	for r, row := range t.Rows {
		if IsNull(row[idx]) {
			continue
		}
		label := strings.TrimSpace(row[idx])
		if _, seen := m.TypeDistribution[label]; !seen {
			m.Types = append(m.Types, label)
		}
		m.TypeDistribution[label]++
		rowsByType[label] = append(rowsByType[label], r)
		validRows++
	}
	m.TotalCategories = len(m.Types)

	var best string
	bestCount := 0
	for _, label := range m.Types {
		count := m.TypeDistribution[label]
		m.TypePercentages[label] = round2(float64(count) / float64(validRows) * 100)
		if count > bestCount {
			best, bestCount = label, count
		}
		m.ByType[label] = typeBreakdown(rowsByType[label], values)
	}
	if bestCount > 0 {
		m.MostCommonType = &best
	}
	return m
}

// RankedTypes orders category labels by descending count, first seen first.
func RankedTypes(m *models.EquipmentMetrics) []string {
	out := append([]string(nil), m.Types...)
	sort.SliceStable(out, func(i, j int) bool {
		return m.TypeDistribution[out[i]] > m.TypeDistribution[out[j]]
	})
	return out
}

func operationalStats(column string, valid []float64, rows int) models.OperationalStats {
	stats := models.OperationalStats{
		Column:       column,
		Count:        len(valid),
		MissingCount: rows - len(valid),
	}
	if len(valid) == 0 {
		return stats
	}
	summary := NumericSummary(valid)
	stats.Average = summary.Mean
	stats.Median = summary.Median
	stats.StdDeviation = summary.Std
	stats.Min = summary.Min
	stats.Max = summary.Max
	return stats
}

func typeBreakdown(rows []int, values map[Role][]*float64) models.TypeBreakdown {
	tb := models.TypeBreakdown{Count: len(rows)}
	for _, role := range operationalRoles {
		cells, ok := values[role]
		if !ok {
			continue
		}
		var vals []float64
		for _, r := range rows {
			if cells[r] != nil {
				vals = append(vals, *cells[r])
			}
		}
		if len(vals) == 0 {
			continue
		}
		avg := floatPtr(Mean(vals))
		var std *float64
		if v, ok := SampleStd(vals); ok {
			std = floatPtr(v)
		}
		switch role {
		case RoleFlowrate:
			tb.AvgFlowrate, tb.StdFlowrate = avg, std
		case RolePressure:
			tb.AvgPressure, tb.StdPressure = avg, std
		case RoleTemperature:
			tb.AvgTemperature, tb.StdTemperature = avg, std
		}
	}
	return tb
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
