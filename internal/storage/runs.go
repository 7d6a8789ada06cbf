package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"modprogress/internal/domain"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunStore implements persistence for export runs and their course results.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

var _ domain.RunLogStore = (*RunStore)(nil)

// ── Runs ───────────────────────────────────────────────────

// CreateRun inserts a running run. Empty ID and StartedAt are filled in.
func (s *RunStore) CreateRun(r *domain.RunLog) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = domain.RunStatusRunning
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO runs (id, trigger_type, source_type, status, started_at, courses_total)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, r.Source, r.Status, r.StartedAt, r.CoursesTotal,
	)
	return err
}

// FinishRun stores the final counters and status of a run.
func (s *RunStore) FinishRun(r *domain.RunLog) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	res, err := s.db.conn.Exec(
		`UPDATE runs SET status=?, finished_at=?, courses_total=?, courses_succeeded=?,
		 courses_failed=?, rows_exported=?, error=? WHERE id=?`,
		r.Status, r.FinishedAt, r.CoursesTotal, r.CoursesSucceeded,
		r.CoursesFailed, r.RowsExported, r.Error, r.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, r.ID)
	}
	return nil
}

const runColumns = `id, trigger_type, source_type, status, started_at, finished_at, courses_total,
	courses_succeeded, courses_failed, rows_exported, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*domain.RunLog, error) {
	var r domain.RunLog
	var finished sql.NullTime
	if err := sc.Scan(
		&r.ID, &r.Trigger, &r.Source, &r.Status, &r.StartedAt, &finished,
		&r.CoursesTotal, &r.CoursesSucceeded, &r.CoursesFailed, &r.RowsExported, &r.Error,
	); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

func (s *RunStore) GetRun(id string) (*domain.RunLog, error) {
	r, err := scanRun(s.db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 means 20.
func (s *RunStore) ListRuns(limit int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.RunLog{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ── Course results ─────────────────────────────────────────

func (s *RunStore) AddCourseResult(c *domain.CourseLog) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO course_results (id, run_id, position, course_id, course_name, status, message, row_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RunID, c.Position, c.CourseID, c.CourseName, c.Status, c.Message, c.Rows,
	)
	return err
}

// ListCourseResults returns a run's course results in run order.
func (s *RunStore) ListCourseResults(runID string) ([]domain.CourseLog, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, run_id, position, course_id, course_name, status, message, row_count
		 FROM course_results WHERE run_id = ? ORDER BY position ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.CourseLog{}
	for rows.Next() {
		var c domain.CourseLog
		if err := rows.Scan(&c.ID, &c.RunID, &c.Position, &c.CourseID, &c.CourseName, &c.Status, &c.Message, &c.Rows); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
