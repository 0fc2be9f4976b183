package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
)

// RenderText renders rep as plain-text tables.
func RenderText(rep *Report) string {
	if rep == nil {
		return ""
	}
	var b strings.Builder
	meta := rep.Dataset
	fmt.Fprintf(&b, "Dataset %q (%s, %d bytes)\n", meta.Name, meta.FileName, meta.FileSize)
	if meta.Description != "" {
		fmt.Fprintf(&b, "%s\n", meta.Description)
	}
	fmt.Fprintf(&b, "%d rows x %d columns (%d numeric, %d categorical)\n\n",
		meta.RowCount, meta.ColumnCount, meta.NumericColumnsCount, meta.CategoricalColumnsCount)

	b.WriteString(columnsTable(rep.Columns))
	b.WriteString("\n\n")
	b.WriteString(qualityTable(rep.DataQuality))
	if rep.Equipment != nil {
		b.WriteString("\n\n")
		b.WriteString(equipmentTable(rep.Equipment))
		if len(rep.Equipment.Distribution) > 0 {
			b.WriteString("\n\n")
			b.WriteString(distributionTable(rep.Equipment.Distribution))
			b.WriteString("\n\n")
			b.WriteString(byTypeTable(rep.Equipment))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func columnsTable(cols []models.ColumnSummary) string {
	t := newTable("Columns")
	t.AppendHeader(table.Row{"Column", "Type", "Non-null", "Null", "Mean", "Median", "Std", "Min", "Max", "Distinct", "Most frequent"})
	for _, col := range cols {
		row := table.Row{col.Name, string(col.Type), col.NonNullCount, col.NullCount}
		if n := col.Numeric; n != nil {
			row = append(row, num(n.Mean), num(n.Median), num(n.Std), num(n.Min), num(n.Max), "", "")
		} else {
			row = append(row, "", "", "", "", "")
			if c := col.Categorical; c != nil {
				row = append(row, c.DistinctCount, str(c.MostFrequent))
			} else {
				row = append(row, "", "")
			}
		}
		t.AppendRow(row)
	}
	t.SetColumnConfigs(numericColumns(3, 4, 5, 6, 7, 8, 9, 10))
	return t.Render()
}

func qualityTable(dq DataQuality) string {
	t := newTable("Data quality")
	t.AppendRows([]table.Row{
		{"Total rows", dq.TotalRows},
		{"Rows with missing values", dq.RowsWithMissing},
		{"Complete rows", dq.CompleteRows},
		{"Missing values", dq.MissingValues},
		{"Missing percentage", fmt.Sprintf("%.2f%%", dq.MissingPercentage)},
	})
	names := make([]string, 0, len(dq.MissingByColumn))
	for name, n := range dq.MissingByColumn {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendRow(table.Row{"  missing in " + name, dq.MissingByColumn[name]})
	}
	return t.Render()
}

func equipmentTable(eq *Equipment) string {
	t := newTable("Equipment")
	t.AppendRows([]table.Row{
		{"Total records", eq.TotalRecords},
		{"Average flowrate", num(eq.AvgFlowrate)},
		{"Average pressure", num(eq.AvgPressure)},
		{"Average temperature", num(eq.AvgTemperature)},
		{"Equipment types", eq.TotalCategories},
		{"Most common type", str(eq.MostCommonType)},
	})
	return t.Render()
}

func distributionTable(shares []TypeShare) string {
	t := newTable("Type distribution")
	t.AppendHeader(table.Row{"Type", "Count", "Share"})
	for _, s := range shares {
		t.AppendRow(table.Row{s.Type, s.Count, fmt.Sprintf("%.2f%%", s.Percentage)})
	}
	t.SetColumnConfigs(numericColumns(2, 3))
	return t.Render()
}

func byTypeTable(eq *Equipment) string {
	t := newTable("By equipment type")
	t.AppendHeader(table.Row{"Type", "Count", "Flowrate", "Flowrate std", "Pressure", "Pressure std", "Temperature", "Temperature std"})
	for _, s := range eq.Distribution {
		tb := eq.ByType[s.Type]
		t.AppendRow(table.Row{s.Type, tb.Count,
			num(tb.AvgFlowrate), num(tb.StdFlowrate),
			num(tb.AvgPressure), num(tb.StdPressure),
			num(tb.AvgTemperature), num(tb.StdTemperature)})
	}
	t.SetColumnConfigs(numericColumns(2, 3, 4, 5, 6, 7, 8))
	return t.Render()
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

func numericColumns(numbers ...int) []table.ColumnConfig {
	out := make([]table.ColumnConfig, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	return out
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func str(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
