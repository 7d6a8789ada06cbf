package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes a table under a logical target name such as
// "12345/module_df" or "Tableau/module_data".
//
// Pattern: Singer target protocol.

// SyncMode determines how tables are written to a warehouse.
type SyncMode string

const (
	SyncReplace SyncMode = "replace" // drop existing rows, insert fresh
	SyncAppend  SyncMode = "append"  // add rows without deleting existing
)

// Destination writes tables to a target system.
type Destination interface {
	Write(ctx context.Context, target string, t *Table) (int, error)
}

// FileCopier is implemented by destinations that can store a source
// file unchanged instead of re-serializing it as a table.
type FileCopier interface {
	CopyFile(ctx context.Context, target, src string) error
}

// ── CSV Destination ────────────────────────────────────────

// CSVWriter writes each target as <Root>/<target>.csv.
// Parent directories are created as needed.
type CSVWriter struct {
	Root string
}

func (w *CSVWriter) Write(ctx context.Context, target string, t *Table) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := w.Path(target)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("create dir for %s: %w", target, err)
	}
	f, err := os.Create(p)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	defer f.Close()

	n, err := WriteCSV(f, t)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, f.Close()
}

// CopyFile copies src byte for byte to the target's file.
func (w *CSVWriter) CopyFile(ctx context.Context, target, src string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	p := w.Path(target)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", target, err)
	}
	out, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", target, err)
	}
	return out.Close()
}

// Path returns the file a target is written to.
func (w *CSVWriter) Path(target string) string {
	name := filepath.FromSlash(target)
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	return filepath.Join(w.Root, name)
}

// WriteCSV writes a header row followed by one record per row.
func WriteCSV(out io.Writer, t *Table) (int, error) {
	cw := csv.NewWriter(out)
	if err := cw.Write(t.Columns); err != nil {
		return 0, err
	}
	rec := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, c := range t.Columns {
			rec[j] = FormatValue(row[c])
		}
		if err := cw.Write(rec); err != nil {
			return i, err
		}
	}
	cw.Flush()
	return len(t.Rows), cw.Error()
}

// ── Memory Destination ─────────────────────────────────────

// MemoryDestination keeps written tables in memory, keyed by target.
// Safe for concurrent use.
type MemoryDestination struct {
	mu     sync.Mutex
	tables map[string]*Table
}

func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{tables: make(map[string]*Table)}
}

func (m *MemoryDestination) Write(_ context.Context, target string, t *Table) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[target] = t
	return t.Len(), nil
}

// Table returns the last table written to target.
func (m *MemoryDestination) Table(target string) (*Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[target]
	return t, ok
}

// Targets lists written targets in sorted order.
func (m *MemoryDestination) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tables))
	for k := range m.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TargetsUnder lists written targets whose directory is dir.
func (m *MemoryDestination) TargetsUnder(dir string) []string {
	var out []string
	for _, t := range m.Targets() {
		if path.Dir(t) == dir {
			out = append(out, t)
		}
	}
	return out
}

// ── Fan-out ────────────────────────────────────────────────

// MultiDestination writes every table to each destination in order and
// returns the row count reported by the first.
type MultiDestination []Destination

func (m MultiDestination) Write(ctx context.Context, target string, t *Table) (int, error) {
	written := 0
	for i, d := range m {
		n, err := d.Write(ctx, target, t)
		if err != nil {
			return written, err
		}
		if i == 0 {
			written = n
		}
	}
	return written, nil
}
