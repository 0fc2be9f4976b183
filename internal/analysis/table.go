package analysis

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Supported upload formats.
const (
	FileTypeCSV  = "csv"
	FileTypeXLSX = "xlsx"
	FileTypeJSON = "json"
)

// Table is an in-memory snapshot of an uploaded dataset. Every row has
// exactly len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable normalises header names (trimmed, blanks named column_N,
// duplicates suffixed .1, .2, ...) and pads short rows with empty cells.
// Rows with non-blank cells beyond the header are rejected.
func NewTable(header []string, rows [][]string) (*Table, error) {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		name := h
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		candidate := name
		for n := 1; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s.%d", name, n)
		}
		used[candidate] = true
		names[i] = candidate
	}

	out := make([][]string, 0, len(rows))
	for i, row := range rows {
		for len(row) > len(names) && strings.TrimSpace(row[len(row)-1]) == "" {
			row = row[:len(row)-1]
		}
		if len(row) > len(names) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(row), len(names))
		}
		cells := make([]string, len(names))
		copy(cells, row)
		out = append(out, cells)
	}
	return &Table{Header: names, Rows: out}, nil
}

func (t *Table) NumRows() int    { return len(t.Rows) }
func (t *Table) NumColumns() int { return len(t.Header) }

// Column returns the raw cells of column i in row order.
func (t *Table) Column(i int) []string {
	col := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		col[r] = row[i]
	}
	return col
}

// ColumnIndex finds a header by exact name.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Preview returns up to n leading rows keyed by header.
func (t *Table) Preview(n int) []map[string]string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make([]map[string]string, 0, n)
	for _, row := range t.Rows[:n] {
		rec := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			rec[h] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// FileTypeFromName derives the upload format from a file name.
func FileTypeFromName(name string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case FileTypeCSV, FileTypeXLSX, FileTypeJSON:
		return ext, nil
	case "":
		return "", validationErrorf("unsupported file type: file name has no extension")
	}
	return "", validationErrorf("unsupported file type %q: expected csv, xlsx or json", ext)
}

var utf8BOM = []byte("\ufeff")

// ReadTable parses data in the given format. A file without content or
// without a header row yields a ValidationError; malformed content yields a
// plain error the caller reports as a processing failure.
func ReadTable(fileType string, data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, validationErrorf("empty file")
	}
	switch fileType {
	case FileTypeCSV:
		return ReadCSV(bytes.NewReader(data))
	case FileTypeXLSX:
		return ReadXLSX(bytes.NewReader(data))
	case FileTypeJSON:
		return ReadJSON(bytes.NewReader(data))
	}
	return nil, validationErrorf("unsupported file type %q", fileType)
}

// ReadCSV reads a header row followed by data rows.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, validationErrorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var rows [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return NewTable(header, rows)
}

// ReadXLSX reads the first sheet of a workbook; its first row is the header.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, validationErrorf("empty file")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, validationErrorf("empty file")
	}
	return NewTable(rows[0], rows[1:])
}

// ReadJSON reads an array of flat objects. The header is the union of keys in
// first-seen order; absent keys and JSON null become empty cells.
func ReadJSON(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	var header []string
	index := make(map[string]int)
	var records []map[string]string
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		rec := make(map[string]string)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read json key: %w", err)
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("read json: unexpected token %v", tok)
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("read json value %q: %w", key, err)
			}
			rec[key] = jsonCell(raw)
			if _, ok := index[key]; !ok {
				index[key] = len(header)
				header = append(header, key)
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, validationErrorf("empty file")
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header))
		for key, val := range rec {
			row[index[key]] = val
		}
		rows = append(rows, row)
	}
	return NewTable(header, rows)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("read json: expected %q, got %v", want, tok)
	}
	return nil
}

func jsonCell(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	if f, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(trimmed)
}
