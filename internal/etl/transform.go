package etl

import (
	"fmt"
)

// ── Table transforms ───────────────────────────────────────
// Composable, pure table-to-table steps. Each returns a new table;
// the input is never modified.

// TableTransform maps one table to the next pipeline stage.
type TableTransform func(*Table) (*Table, error)

// Apply runs the transforms in order, stopping at the first error.
func Apply(t *Table, ts ...TableTransform) (*Table, error) {
	var err error
	for _, tf := range ts {
		t, err = tf(t)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Rename renames columns, keeping their position. Unknown names in mapping are
// ignored. A column renamed onto an existing name replaces its values.
func Rename(t *Table, mapping map[string]string) *Table {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c
		if n, ok := mapping[c]; ok {
			cols[i] = n
		}
	}
	out := NewTable(cols...)
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		r := make(Row, len(out.Columns))
		for _, c := range t.Columns {
			if _, ok := mapping[c]; !ok {
				r[c] = row[c]
			}
		}
		for _, c := range t.Columns {
			if n, ok := mapping[c]; ok {
				r[n] = row[c]
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// Select projects the table onto columns, in that order.
// Every named column must exist.
func Select(t *Table, columns ...string) (*Table, error) {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("select %q: %w", c, ErrColumnNotFound)
		}
	}
	out := NewTable(columns...)
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		out.AddRow(row)
	}
	return out, nil
}

// WithColumn sets name to value on every row, appending the column if new.
func WithColumn(t *Table, name string, value any) *Table {
	out := NewTable(append(append([]string{}, t.Columns...), name)...)
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		r := row.clone()
		r[name] = value
		out.Rows = append(out.Rows, r)
	}
	return out
}

// MapColumn replaces every value of column with fn(value).
func MapColumn(t *Table, column string, fn func(any) (any, error)) (*Table, error) {
	if !t.HasColumn(column) {
		return nil, fmt.Errorf("map %q: %w", column, ErrColumnNotFound)
	}
	out := NewTable(t.Columns...)
	out.Rows = make([]Row, 0, len(t.Rows))
	for i, row := range t.Rows {
		v, err := fn(row[column])
		if err != nil {
			return nil, fmt.Errorf("map %q (row %d): %w", column, i, err)
		}
		r := row.clone()
		r[column] = v
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// Concat stacks tables vertically. Columns are the union in first-seen order;
// rows from a table lacking a column get nil there.
func Concat(tables ...*Table) *Table {
	var cols []string
	for _, t := range tables {
		if t != nil {
			cols = append(cols, t.Columns...)
		}
	}
	out := NewTable(cols...)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			out.AddRow(row)
		}
	}
	return out
}

// LeftJoin keeps every left row and attaches the columns of the first right row
// whose rightKey renders to the same text as the left row's leftKey.
// Unmatched rows get nil in the right columns. Right columns that collide with a
// left column are suffixed with "_right"; a shared key column appears once.
func LeftJoin(left, right *Table, leftKey, rightKey string) (*Table, error) {
	if !left.HasColumn(leftKey) {
		return nil, fmt.Errorf("join left %q: %w", leftKey, ErrColumnNotFound)
	}
	if !right.HasColumn(rightKey) {
		return nil, fmt.Errorf("join right %q: %w", rightKey, ErrColumnNotFound)
	}

	index := make(map[string]Row, len(right.Rows))
	for _, row := range right.Rows {
		k := row[rightKey]
		if k == nil {
			continue
		}
		key := FormatValue(k)
		if _, dup := index[key]; !dup {
			index[key] = row
		}
	}

	type mapped struct{ src, dst string }
	var rightCols []mapped
	cols := append([]string{}, left.Columns...)
	for _, c := range right.Columns {
		if c == rightKey && rightKey == leftKey {
			continue
		}
		dst := c
		if left.HasColumn(c) {
			dst = c + "_right"
		}
		rightCols = append(rightCols, mapped{src: c, dst: dst})
		cols = append(cols, dst)
	}

	out := NewTable(cols...)
	out.Rows = make([]Row, 0, len(left.Rows))
	for _, row := range left.Rows {
		r := row.clone()
		var match Row
		if k := row[leftKey]; k != nil {
			match = index[FormatValue(k)]
		}
		for _, m := range rightCols {
			if match != nil {
				r[m.dst] = match[m.src]
			} else {
				r[m.dst] = nil
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// ── Steps ──────────────────────────────────────────────────
// TableTransform constructors for Apply chains.

func ExplodeRowsStep(column string, opts ...ExpandOption) TableTransform {
	return func(t *Table) (*Table, error) { return ExplodeRows(t, column, opts...) }
}

func ExplodeColumnsStep(column, prefix string, opts ...ExpandOption) TableTransform {
	return func(t *Table) (*Table, error) { return ExplodeColumns(t, column, prefix, opts...) }
}

func RenameStep(mapping map[string]string) TableTransform {
	return func(t *Table) (*Table, error) { return Rename(t, mapping), nil }
}

func SelectStep(columns ...string) TableTransform {
	return func(t *Table) (*Table, error) { return Select(t, columns...) }
}

func WithColumnStep(name string, value any) TableTransform {
	return func(t *Table) (*Table, error) { return WithColumn(t, name, value), nil }
}

func MapColumnStep(column string, fn func(any) (any, error)) TableTransform {
	return func(t *Table) (*Table, error) { return MapColumn(t, column, fn) }
}
