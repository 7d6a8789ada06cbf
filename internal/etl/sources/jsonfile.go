package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"modprogress/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Serves course data from a directory of JSON documents shaped like the
// Canvas API responses:
//
//	<dir>/courses/<course_id>.json
//	<dir>/modules/<course_id>.json
//	<dir>/modules/<course_id>/<student_id>.json
//	<dir>/students/<course_id>.json
//	<dir>/enrollments/<course_id>.json
//
// Missing list files read as empty lists; a missing course file is ErrNotFound.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON Fixture Directory",
		ConfigFields: []etl.ConfigField{
			{Key: "dir", Label: "Directory", Type: "dir", Required: true, Help: "Directory holding courses/, modules/, students/ and enrollments/"},
		},
	}
}

func (s *jsonFileSource) Connect(_ context.Context, cfg etl.SourceConfig) (etl.Client, error) {
	dir, _ := cfg["dir"].(string)
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open fixture dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open fixture dir: %s is not a directory", dir)
	}
	return &jsonFileClient{dir: dir}, nil
}

type jsonFileClient struct {
	dir string
}

func (c *jsonFileClient) Course(ctx context.Context, courseID string) (etl.Record, error) {
	if err := ctx.Err(); err != nil {
		return etl.Record{}, err
	}
	recs, err := readJSONFile(filepath.Join(c.dir, "courses", courseID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return etl.Record{}, fmt.Errorf("course %s: %w", courseID, etl.ErrNotFound)
	}
	if err != nil {
		return etl.Record{}, err
	}
	if len(recs) != 1 {
		return etl.Record{}, fmt.Errorf("course %s: expected one object, got %d", courseID, len(recs))
	}
	return recs[0], nil
}

func (c *jsonFileClient) Modules(ctx context.Context, courseID, studentID string) ([]etl.Record, error) {
	p := filepath.Join(c.dir, "modules", courseID+".json")
	if studentID != "" {
		p = filepath.Join(c.dir, "modules", courseID, studentID+".json")
	}
	recs, err := c.list(ctx, p)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if _, ok := recs[i].Lookup("course_id"); !ok {
			recs[i].Set("course_id", courseID)
		}
	}
	return recs, nil
}

func (c *jsonFileClient) Students(ctx context.Context, courseID string) ([]etl.Record, error) {
	return c.list(ctx, filepath.Join(c.dir, "students", courseID+".json"))
}

func (c *jsonFileClient) Enrollments(ctx context.Context, courseID string) ([]etl.Record, error) {
	return c.list(ctx, filepath.Join(c.dir, "enrollments", courseID+".json"))
}

func (c *jsonFileClient) list(ctx context.Context, path string) ([]etl.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := readJSONFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []etl.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []etl.Record{}
	}
	return recs, nil
}

func readJSONFile(path string) ([]etl.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := etl.DecodeRecords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return recs, nil
}
