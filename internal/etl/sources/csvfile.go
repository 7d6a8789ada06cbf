package sources

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"modprogress/internal/etl"
)

// ── CSV Files ──────────────────────────────────────────────
// The course entitlements file is a CSV with a course_id column
// listing the courses to export.

// ErrNoCourseIDColumn is returned when the entitlements file has no course_id header.
var ErrNoCourseIDColumn = errors.New("entitlements file has no course_id column")

// CourseIDColumn is the entitlements header naming the courses to export.
const CourseIDColumn = "course_id"

// ReadCSVTable reads a CSV file with a header row into a table of strings.
// Empty cells become nil.
func ReadCSVTable(path string) (*etl.Table, error) {
	headers, rows, err := readCSVFile(path)
	if err != nil {
		return nil, err
	}
	t := etl.NewTable(headers...)
	for _, row := range rows {
		r := make(etl.Row, len(headers))
		for j, h := range headers {
			if j < len(row) && strings.TrimSpace(row[j]) != "" {
				r[h] = row[j]
			}
		}
		t.AddRow(r)
	}
	return t, nil
}

// ReadCourseIDs returns the distinct, non-blank course ids in file order.
func ReadCourseIDs(path string) ([]string, error) {
	t, err := ReadCSVTable(path)
	if err != nil {
		return nil, err
	}
	if !t.HasColumn(CourseIDColumn) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoCourseIDColumn)
	}
	var ids []string
	seen := make(map[string]bool)
	for _, v := range t.Column(CourseIDColumn) {
		id := strings.TrimSpace(etl.FormatValue(v))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func readCSVFile(path string) ([]string, [][]string, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("file path is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty csv file")
	}

	headers := records[0]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return headers, records[1:], nil
}
