package etl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ── Table ──────────────────────────────────────────────────
// Tables are what flows between pipeline stages.
// Every row holds a value (possibly nil) for every column; column order is
// significant and is what the CSV destinations emit.

// Row maps column name to cell value.
type Row map[string]any

// Table is an ordered set of named columns over a sequence of rows.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable returns an empty table with the given columns.
// Repeated names collapse to their first occurrence.
func NewTable(columns ...string) *Table {
	return &Table{Columns: uniqueColumns(columns), Rows: []Row{}}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AddRow appends r, keeping only declared columns and filling absent ones with nil.
func (t *Table) AddRow(r Row) {
	row := make(Row, len(t.Columns))
	for _, c := range t.Columns {
		row[c] = r[c]
	}
	t.Rows = append(t.Rows, row)
}

// Append adds a row from positional values. Missing trailing values are nil.
func (t *Table) Append(values ...any) {
	row := make(Row, len(t.Columns))
	for i, c := range t.Columns {
		if i < len(values) {
			row[c] = values[i]
		} else {
			row[c] = nil
		}
	}
	t.Rows = append(t.Rows, row)
}

// Column returns a copy of the values of one column.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[name]
	}
	return out
}

// Records converts the rows into ordered records (used by JSON-facing callers).
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.Rows))
	for _, r := range t.Rows {
		rec := NewRecord()
		for _, c := range t.Columns {
			rec.Set(c, r[c])
		}
		out = append(out, rec)
	}
	return out
}

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func uniqueColumns(columns []string) []string {
	seen := make(map[string]bool, len(columns))
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func without(columns []string, name string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// ── Value formatting ───────────────────────────────────────

// FormatValue renders a cell as text for CSV and SQL output.
// nil renders as the empty string; nested values render as JSON.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case Record, []any, map[string]any, Map:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
