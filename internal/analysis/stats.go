package analysis

import (
	"math"
	"sort"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

const topValuesLimit = 10

// Summarize computes the ColumnSummary of an inferred column.
func Summarize(col InferredColumn) models.ColumnSummary {
	summary := models.ColumnSummary{
		Name:         col.Name,
		Type:         col.Kind,
		NullCount:    col.NullCount,
		NonNullCount: len(col.Values) - col.NullCount,
	}
	switch col.Kind {
	case models.ColumnNumeric:
		summary.Numeric = NumericSummary(col.Numbers)
		summary.UniqueCount = distinctFloats(col.Numbers)
	default:
		nonNull := make([]string, 0, summary.NonNullCount)
		for _, v := range col.Values {
			if v != "" {
				nonNull = append(nonNull, v)
			}
		}
		summary.Categorical = CategoricalSummary(nonNull)
		summary.UniqueCount = summary.Categorical.DistinctCount
	}
	return summary
}

// NumericSummary computes mean, median, sample std, min, max and quartiles.
func NumericSummary(values []float64) *models.NumericStats {
	stats := &models.NumericStats{}
	if len(values) == 0 {
		return stats
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	m := Mean(values)
	stats.Mean = &m
	med := median(sorted)
	stats.Median = &med
	if std, ok := SampleStd(values); ok {
		stats.Std = &std
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	stats.Min = &lo
	stats.Max = &hi
	q25 := quantile(sorted, 0.25)
	q75 := quantile(sorted, 0.75)
	stats.Q25 = &q25
	stats.Q75 = &q75
	return stats
}

// CategoricalSummary counts trimmed non-null values. Ties for the most
// frequent value and in TopValues go to the value seen first.
func CategoricalSummary(values []string) *models.CategoricalStats {
	freq := make(map[string]int)
	var order []string
	for _, v := range values {
		if _, ok := freq[v]; !ok {
			order = append(order, v)
		}
		freq[v]++
	}

	stats := &models.CategoricalStats{
		DistinctCount: len(order),
		Frequencies:   freq,
		TopValues:     []models.ValueCount{},
	}
	ranked := make([]models.ValueCount, 0, len(order))
	for _, v := range order {
		ranked = append(ranked, models.ValueCount{Value: v, Count: freq[v]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > 0 {
		top := ranked[0].Value
		stats.MostFrequent = &top
		stats.MostFrequentCount = ranked[0].Count
	}
	if len(ranked) > topValuesLimit {
		ranked = ranked[:topValuesLimit]
	}
	stats.TopValues = append(stats.TopValues, ranked...)
	return stats
}

// Mean is the arithmetic mean; callers guard the empty case.
func Mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStd is the n-1 standard deviation; undefined below two values.
func SampleStd(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1)), true
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quantile interpolates linearly between closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func distinctFloats(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func floatPtr(v float64) *float64 {
	return &v
}
