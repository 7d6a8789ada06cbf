package progress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"modprogress/internal/etl"
	"modprogress/internal/etl/sources"
)

// ── Engine ─────────────────────────────────────────────────
// Orchestrates: client → per-course tables → destination, then the
// unioned BI export and the status tables.

// Output targets written by a run.
const (
	TargetModuleData   = "Tableau/module_data"
	TargetEntitlements = "Tableau/course_entitlements.csv"
	TargetStatus       = "Tableau/status"
	statusLogDir       = "status_log"
	statusLogLayout    = "2006-01-02--15-04-05"
)

// PreservedEntries survive ClearOutputDir.
var PreservedEntries = []string{"Tableau", ".gitkeep", ".DS_Store"}

// Options tune a run.
type Options struct {
	// ClearDir is emptied (except PreservedEntries) before the first course.
	ClearDir string
	// EntitlementsPath is copied into the BI folder when set.
	EntitlementsPath string
	// WarehouseTable names the table the unioned export is loaded into.
	WarehouseTable string
	// Expand tunes how item lists and requirement objects are expanded.
	Expand []etl.ExpandOption
}

// Engine runs exports. Dest is required; Warehouse is optional.
type Engine struct {
	Client    etl.Client
	Dest      etl.Destination
	Warehouse etl.Destination
	Logger    *zap.Logger
	Options   Options

	// OnCourse is called after each course finishes, in order.
	OnCourse func(CourseResult)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run exports every course in courseIDs. A failing course is recorded and
// skipped; an invalid access token or a failed BI export stops the run and is
// returned together with the partial result. An empty runID gets a fresh uuid.
func (e *Engine) Run(ctx context.Context, runID string, courseIDs []string) (*RunResult, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	run := &RunResult{ID: runID, StartedAt: e.now(), Courses: []CourseResult{}}
	log := e.logger().With(zap.String("run_id", run.ID))
	log.Info("export started", zap.Int("courses", len(courseIDs)))

	if e.Options.ClearDir != "" {
		if err := ClearOutputDir(e.Options.ClearDir); err != nil {
			return run, fmt.Errorf("clear output dir: %w", err)
		}
	}

	var union []*etl.Table
	for _, cid := range courseIDs {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		res, items, err := e.runCourse(ctx, cid, log)
		if errors.Is(err, etl.ErrInvalidAccessToken) {
			return run, fmt.Errorf("please check that the access token is correct and still active: %w", err)
		}
		run.Courses = append(run.Courses, res)
		if items != nil {
			union = append(union, items)
		}
		if e.OnCourse != nil {
			e.OnCourse(res)
		}
	}

	moduleData := etl.Concat(union...)
	if len(union) == 0 {
		moduleData = etl.NewTable(StudentItemColumns...)
	}
	n, err := e.Dest.Write(ctx, TargetModuleData, moduleData)
	if err != nil {
		return run, fmt.Errorf("write %s: %w", TargetModuleData, err)
	}
	run.RowsExported = n

	if p := e.Options.EntitlementsPath; p != "" {
		if err := e.copyEntitlements(ctx, p); err != nil {
			return run, err
		}
	}

	run.FinishedAt = e.now()
	status := StatusTable(run, run.FinishedAt)
	if _, err := e.Dest.Write(ctx, TargetStatus, status); err != nil {
		return run, fmt.Errorf("write %s: %w", TargetStatus, err)
	}
	logTarget := statusLogDir + "/" + run.FinishedAt.Format(statusLogLayout)
	if _, err := e.Dest.Write(ctx, logTarget, status); err != nil {
		return run, fmt.Errorf("write %s: %w", logTarget, err)
	}

	if e.Warehouse != nil {
		table := e.Options.WarehouseTable
		if table == "" {
			table = "module_data"
		}
		if _, err := e.Warehouse.Write(ctx, table, moduleData); err != nil {
			return run, fmt.Errorf("load warehouse table %s: %w", table, err)
		}
		log.Info("warehouse loaded", zap.String("table", table), zap.Int("rows", moduleData.Len()))
	}

	log.Info("export finished",
		zap.Int("succeeded", run.Succeeded()),
		zap.Int("failed", run.Failed()),
		zap.Int("rows", run.RowsExported),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)))
	return run, nil
}

func (e *Engine) runCourse(ctx context.Context, cid string, log *zap.Logger) (CourseResult, *etl.Table, error) {
	res := CourseResult{CourseID: cid, Status: StatusNotExecuted}
	log = log.With(zap.String("course_id", cid))

	course, err := e.Client.Course(ctx, cid)
	if err != nil {
		if errors.Is(err, etl.ErrInvalidAccessToken) {
			return res, nil, err
		}
		return e.failed(res, err, log), nil, nil
	}
	res.CourseName = etl.FormatValue(course.Get("name"))

	tables, err := BuildCourseTables(ctx, e.Client, cid, course, log, e.Options.Expand...)
	if err != nil {
		if errors.Is(err, etl.ErrInvalidAccessToken) {
			return res, nil, err
		}
		return e.failed(res, err, log), nil, nil
	}

	outputs := []struct {
		name  string
		table *etl.Table
	}{
		{"module_df", tables.Modules},
		{"items_df", tables.Items},
		{"student_module_df", tables.StudentModules},
		{"student_items_df", tables.StudentItems},
	}
	for _, o := range outputs {
		if _, err := e.Dest.Write(ctx, cid+"/"+o.name, o.table); err != nil {
			return e.failed(res, fmt.Errorf("write %s: %w", o.name, err), log), nil, nil
		}
	}

	res.Status = StatusSuccess
	res.Message = SuccessMessage
	res.Rows = tables.StudentItems.Len()
	log.Info("course exported", zap.String("course_name", res.CourseName), zap.Int("rows", res.Rows))
	return res, tables.StudentItems, nil
}

func (e *Engine) failed(res CourseResult, err error, log *zap.Logger) CourseResult {
	res.Status = StatusFailed
	res.Message = FailureMessage(res.CourseID, err)
	log.Warn("course failed", zap.String("reason", res.Message), zap.Error(err))
	return res
}

// FailureMessage renders the status message recorded for a failed course.
func FailureMessage(courseID string, err error) string {
	var ce *CourseError
	switch {
	case errors.Is(err, etl.ErrUnauthorized):
		return "User not authorized to get module progress data for course: " + courseID
	case errors.Is(err, etl.ErrNotFound):
		return "Not Found Error: Please ensure correct course id"
	case errors.Is(err, ErrNoStudents):
		return "Course must have students enrolled"
	case errors.As(err, &ce):
		return ce.Reason
	default:
		return "Unexpected error: " + err.Error()
	}
}

// ClearOutputDir removes every entry of dir except PreservedEntries.
// A missing dir is created.
func ClearOutputDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(PreservedEntries))
	for _, name := range PreservedEntries {
		keep[name] = true
	}
	for _, entry := range entries {
		if keep[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// copyEntitlements stores the entitlements file next to the BI export.
// File destinations get the original bytes; others get the parsed table.
func (e *Engine) copyEntitlements(ctx context.Context, path string) error {
	if fc, ok := e.Dest.(etl.FileCopier); ok {
		if err := fc.CopyFile(ctx, TargetEntitlements, path); err != nil {
			return fmt.Errorf("copy entitlements: %w", err)
		}
		return nil
	}
	ent, err := sources.ReadCSVTable(path)
	if err != nil {
		return fmt.Errorf("copy entitlements: %w", err)
	}
	if _, err := e.Dest.Write(ctx, TargetEntitlements, ent); err != nil {
		return fmt.Errorf("write %s: %w", TargetEntitlements, err)
	}
	return nil
}
