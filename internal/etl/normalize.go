package etl

// Lookuper is anything that exposes optional named attributes.
// Record implements it; Map adapts plain maps.
type Lookuper interface {
	Lookup(name string) (any, bool)
}

// Map adapts a plain string-keyed map to Lookuper.
type Map map[string]any

// Lookup implements Lookuper.
func (m Map) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Normalize builds a table with one row per item and one column per attribute,
// in attrs order. Attributes an item does not expose become nil.
// Nested values are stored unchanged.
func Normalize[T Lookuper](items []T, attrs []string) *Table {
	t := NewTable(attrs...)
	t.Rows = make([]Row, 0, len(items))
	for _, item := range items {
		row := make(Row, len(t.Columns))
		for _, a := range t.Columns {
			v, ok := item.Lookup(a)
			if !ok {
				v = nil
			}
			row[a] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
