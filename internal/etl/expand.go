package etl

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ── Expansion ──────────────────────────────────────────────
// Row explosion turns a list-valued column into one row per element.
// Column explosion turns a record-valued column into one column per key.
// Both return a new table and never mutate their input.

const (
	opExplodeRows    = "explode rows"
	opExplodeColumns = "explode columns"
)

// ExpandOption tunes ExplodeRows and ExplodeColumns.
type ExpandOption func(*expandOptions)

type expandOptions struct {
	keepEmpty    bool
	strict       bool
	stringValues bool
}

// KeepEmpty keeps rows whose list is empty or nil, with a nil cell,
// instead of dropping them.
func KeepEmpty() ExpandOption {
	return func(o *expandOptions) { o.keepEmpty = true }
}

// Strict makes an unparseable serialized cell fail the expansion
// instead of yielding nulls.
func Strict() ExpandOption {
	return func(o *expandOptions) { o.strict = true }
}

// StringValues renders every expanded non-nil value as text.
func StringValues() ExpandOption {
	return func(o *expandOptions) { o.stringValues = true }
}

func buildExpandOptions(opts []ExpandOption) expandOptions {
	var o expandOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ExplodeRows replaces every row with one row per element of its list in column.
// The other columns are copied onto each produced row and the exploded column
// moves to the end. Rows with an empty or nil list are dropped unless KeepEmpty
// is given.
func ExplodeRows(t *Table, column string, opts ...ExpandOption) (*Table, error) {
	o := buildExpandOptions(opts)
	if !t.HasColumn(column) {
		return nil, &ExpansionError{Op: opExplodeRows, Column: column, Row: -1, Err: ErrColumnNotFound}
	}

	out := NewTable(append(without(t.Columns, column), column)...)
	for i, row := range t.Rows {
		elems, err := listCell(row[column])
		if err != nil {
			return nil, &ExpansionError{Op: opExplodeRows, Column: column, Row: i, Err: err}
		}
		if len(elems) == 0 {
			if o.keepEmpty {
				r := row.clone()
				r[column] = nil
				out.Rows = append(out.Rows, r)
			}
			continue
		}
		for _, e := range elems {
			r := row.clone()
			r[column] = e
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// ExplodeColumns replaces column with one column per distinct key found in its
// cells, in first-seen order. A key that already contains prefix is used as the
// column name; any other key becomes prefix+key. Rows whose cell is nil, or
// lacks a key, get nil in the corresponding column.
//
// Cells may hold a Record, a map (keys taken in sorted order), or a JSON object
// serialized as a string. Blank strings count as nil. A generated name equal to
// an existing column replaces that column's values where the key is present.
func ExplodeColumns(t *Table, column, prefix string, opts ...ExpandOption) (*Table, error) {
	o := buildExpandOptions(opts)
	if !t.HasColumn(column) {
		return nil, &ExpansionError{Op: opExplodeColumns, Column: column, Row: -1, Err: ErrColumnNotFound}
	}

	nested := make([]*Record, len(t.Rows))
	var keys []string
	seen := make(map[string]bool)
	for i, row := range t.Rows {
		rec, err := recordCell(row[column])
		if err != nil {
			if errors.Is(err, ErrUnparseable) && !o.strict {
				continue
			}
			return nil, &ExpansionError{Op: opExplodeColumns, Column: column, Row: i, Err: err}
		}
		if rec == nil {
			continue
		}
		nested[i] = rec
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	base := without(t.Columns, column)
	names := make([]string, len(keys))
	columns := append([]string{}, base...)
	for j, k := range keys {
		names[j] = prefixedName(prefix, k)
		columns = append(columns, names[j])
	}
	out := NewTable(columns...)

	for i, row := range t.Rows {
		r := make(Row, len(out.Columns))
		for _, c := range out.Columns {
			r[c] = nil
		}
		for _, c := range base {
			r[c] = row[c]
		}
		if rec := nested[i]; rec != nil {
			for j, k := range keys {
				v, ok := rec.Lookup(k)
				if !ok {
					continue
				}
				if o.stringValues && v != nil {
					v = FormatValue(v)
				}
				r[names[j]] = v
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

func prefixedName(prefix, key string) string {
	if strings.Contains(key, prefix) {
		return key
	}
	return prefix + key
}

// listCell extracts the elements of a list-valued cell. nil yields no elements.
func listCell(v any) ([]any, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return l, nil
	case []Record:
		out := make([]any, len(l))
		for i, r := range l {
			out[i] = r
		}
		return out, nil
	case string, []byte:
		return nil, fmt.Errorf("%w: %T is not a list", ErrUnexpectedType, v)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not a list", ErrUnexpectedType, v)
}

// recordCell extracts the nested record of a cell. nil and blank strings yield nil.
func recordCell(v any) (*Record, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case Record:
		return &c, nil
	case *Record:
		return c, nil
	case map[string]any:
		return recordFromMap(c), nil
	case Map:
		return recordFromMap(c), nil
	case string:
		s := strings.TrimSpace(c)
		if s == "" {
			return nil, nil
		}
		parsed, err := ParseJSON([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		switch p := parsed.(type) {
		case nil:
			return nil, nil
		case Record:
			return &p, nil
		default:
			return nil, fmt.Errorf("%w: serialized %T is not an object", ErrUnparseable, parsed)
		}
	default:
		return nil, fmt.Errorf("%w: %T is not a record", ErrUnexpectedType, v)
	}
}

func recordFromMap(m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rec := NewRecord()
	for _, k := range keys {
		rec.Set(k, m[k])
	}
	return &rec
}
