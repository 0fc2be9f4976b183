package analysis

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

// DefaultNumericThreshold is the share of non-null values that must parse as
// numbers for a column to be numeric.
const DefaultNumericThreshold = 0.90

var numberPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var nullTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

// IsNull reports whether a raw cell counts as missing.
func IsNull(cell string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// ParseNumber parses an integer or decimal with optional sign and exponent.
// Null cells, words and non-finite values are rejected.
func ParseNumber(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// InferredColumn is a column after type inference and null coercion.
// Values holds trimmed cells with "" for nulls; in numeric columns cells that
// failed to parse are nulls too. Numbers holds the parsed values of a numeric
// column in row order.
type InferredColumn struct {
	Name      string
	Kind      models.ColumnKind
	Values    []string
	Numbers   []float64
	NullCount int
}

// Valid reports whether row i holds a usable value.
func (c *InferredColumn) Valid(i int) bool {
	return c.Values[i] != ""
}

// Inferencer classifies columns as numeric or categorical.
type Inferencer struct {
	Threshold float64
}

func NewInferencer(threshold float64) Inferencer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultNumericThreshold
	}
	return Inferencer{Threshold: threshold}
}

// Infer classifies raw and coerces its cells. A column without any non-null
// value is numeric with every statistic empty.
func (in Inferencer) Infer(name string, raw []string) InferredColumn {
	values := make([]string, len(raw))
	nonNull, parsed := 0, 0
	for i, cell := range raw {
		if IsNull(cell) {
			continue
		}
		values[i] = strings.TrimSpace(cell)
		nonNull++
		if _, ok := ParseNumber(cell); ok {
			parsed++
		}
	}

	col := InferredColumn{Name: name, Values: values}
	threshold := in.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultNumericThreshold
	}
	if nonNull == 0 || float64(parsed) >= threshold*float64(nonNull)-1e-9 {
		col.Kind = models.ColumnNumeric
		col.Numbers = make([]float64, 0, parsed)
		for i, v := range values {
			if v == "" {
				continue
			}
			num, ok := ParseNumber(v)
			if !ok {
				values[i] = ""
				continue
			}
			col.Numbers = append(col.Numbers, num)
		}
	} else {
		col.Kind = models.ColumnCategorical
	}
	for _, v := range values {
		if v == "" {
			col.NullCount++
		}
	}
	return col
}
