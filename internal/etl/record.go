package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// Sources emit Records, the normalizer turns collections of Records into Tables.
// Keys keep the order they had in the source document so column expansion
// produces a deterministic column order.

// Record is an ordered key/value structure read from an LMS response.
// Values are string, json.Number, bool, nil, nested Record or []any.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating key/value pairs.
// It panics when a key is not a string; intended for fixtures and literals.
func RecordOf(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("etl.RecordOf: odd number of arguments")
	}
	r := NewRecord()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("etl.RecordOf: key %v is not a string", kv[i]))
		}
		r.Set(key, kv[i+1])
	}
	return r
}

// Len returns the number of attributes.
func (r Record) Len() int { return len(r.keys) }

// Keys returns the attribute names in document order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Lookup reports whether the record exposes name and returns its value.
func (r Record) Lookup(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Get returns the value of name, or nil when absent.
func (r Record) Get(name string) any {
	return r.values[name]
}

// Set stores v under name. A new name is appended to the key order;
// an existing name keeps its position.
func (r *Record) Set(name string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.values[name] = v
}

// MarshalJSON encodes the record as a JSON object in key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order and exact numbers.
func (r *Record) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	rec, ok := v.(Record)
	if !ok {
		return fmt.Errorf("expected json object, got %T", v)
	}
	*r = rec
	return nil
}

// ── Decoding ───────────────────────────────────────────────

// ParseJSON decodes a single JSON value. Objects become Records,
// arrays []any and numbers json.Number.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parse json: trailing data")
	}
	return v, nil
}

// DecodeRecords reads a JSON array of objects (one page of an API response).
// A single top-level object yields one record.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	switch x := v.(type) {
	case Record:
		return []Record{x}, nil
	case []any:
		records := make([]Record, 0, len(x))
		for i, item := range x {
			rec, ok := item.(Record)
			if !ok {
				return nil, fmt.Errorf("parse json: element %d is %T, not an object", i, item)
			}
			records = append(records, rec)
		}
		return records, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("parse json: expected array or object, got %T", v)
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return t, nil
	}
}

func decodeObject(dec *json.Decoder) (Record, error) {
	rec := NewRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("object key %v is not a string", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return Record{}, err
		}
		rec.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	items := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return items, nil
}
