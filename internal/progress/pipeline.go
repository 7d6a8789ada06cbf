package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"modprogress/internal/etl"
)

// ── Attribute lists ────────────────────────────────────────
// Attributes read from each LMS collection, in output column order.

var (
	moduleAttrs = []string{
		"id", "name", "position", "unlock_at", "require_sequential_progress",
		"publish_final_grade", "prerequisite_module_ids", "published",
		"items_count", "items_url", "items", "course_id",
	}
	studentModuleAttrs = []string{
		"id", "name", "position", "unlock_at", "require_sequential_progress",
		"publish_final_grade", "prerequisite_module_ids", "state",
		"completed_at", "items_count", "items_url", "items", "course_id",
	}
	studentAttrs = []string{
		"id", "name", "created_at", "sortable_name", "short_name",
		"sis_user_id", "integration_id", "login_id", "pronouns",
	}
	enrollmentAttrs = []string{"created_at", "user_id"}

	moduleRename = map[string]string{
		"id":       "module_id",
		"name":     "module_name",
		"position": "module_position",
	}

	// StudentItemColumns is the projection of the per-course student items
	// table and of the unioned BI export.
	StudentItemColumns = []string{
		"completed_at", "course_id", "module_id", "items_count", "module_name",
		"module_position", "state", "unlock_at", "student_id", "student_name",
		"items_id", "items_title", "items_position", "items_indent",
		"items_type", "items_module_id", "item_cp_req_type",
		"item_cp_req_completed", "course_name",
	}
)

const (
	itemsColumn       = "items"
	itemsPrefix       = "items_"
	requirementColumn = "items_completion_requirement"
	courseReqPrefix   = "items_completion_req_"
	studentReqPrefix  = "item_cp_req_"
)

// ErrNoStudents is returned for a course without enrolled students.
var ErrNoStudents = errors.New("course has no students enrolled")

// CourseError carries the user-facing reason a course failed.
type CourseError struct {
	Reason string
	Err    error
}

func (e *CourseError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *CourseError) Unwrap() error { return e.Err }

// CourseTables are the four per-course exports.
type CourseTables struct {
	Modules        *etl.Table
	Items          *etl.Table
	StudentModules *etl.Table
	StudentItems   *etl.Table
}

// ── Stages ─────────────────────────────────────────────────

// ModulesTable normalizes a course's modules and renames their identity columns.
func ModulesTable(modules []etl.Record) *etl.Table {
	return etl.Rename(etl.Normalize(modules, moduleAttrs), moduleRename)
}

// ItemsTable expands the items of every module into one row per item with one
// column per item attribute and per completion requirement attribute.
func ItemsTable(modules *etl.Table, courseName string, opts ...etl.ExpandOption) (*etl.Table, error) {
	t, err := etl.Apply(modules,
		etl.SelectStep("module_id", "module_name", "course_id", itemsColumn),
		etl.ExplodeRowsStep(itemsColumn, opts...),
		etl.ExplodeColumnsStep(itemsColumn, itemsPrefix, opts...),
		etl.ExplodeColumnsStep(requirementColumn, courseReqPrefix, opts...),
	)
	if err != nil {
		return nil, &CourseError{
			Reason: fmt.Sprintf("Unable to expand module items for %q. Please ensure all modules have items", courseName),
			Err:    err,
		}
	}
	return t, nil
}

// StudentModulesTable fetches every student's view of the course modules and
// joins the enrollment date onto each row.
func StudentModulesTable(ctx context.Context, client etl.Client, courseID string, log *zap.Logger) (*etl.Table, error) {
	students, err := client.Students(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get students: %w", err)
	}
	if len(students) == 0 {
		return nil, ErrNoStudents
	}
	enrollments, err := client.Enrollments(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get enrollments: %w", err)
	}

	studentsTable := etl.Normalize(students, studentAttrs)
	parts := make([]*etl.Table, 0, studentsTable.Len())
	for i, student := range studentsTable.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sid := etl.FormatValue(student["id"])
		log.Debug("fetching student modules",
			zap.String("student_id", sid),
			zap.Int("student", i+1),
			zap.Int("students", studentsTable.Len()))

		modules, err := client.Modules(ctx, courseID, sid)
		if err != nil {
			return nil, fmt.Errorf("get modules for student %s: %w", sid, err)
		}
		rows, err := etl.Apply(etl.Normalize(modules, studentModuleAttrs),
			etl.WithColumnStep("student_id", sid),
			etl.WithColumnStep("sis_user_id", student["sis_user_id"]),
			etl.WithColumnStep("student_name", student["name"]),
			etl.WithColumnStep("sortable_student_name", student["sortable_name"]),
		)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rows)
	}

	status := etl.Rename(etl.Concat(parts...), moduleRename)

	enrolled, err := etl.MapColumn(etl.Normalize(enrollments, enrollmentAttrs), "user_id", asText)
	if err != nil {
		return nil, err
	}
	return etl.LeftJoin(status, enrolled, "student_id", "user_id")
}

// StudentItemsTable expands the student module status into one row per
// student and item, projected onto StudentItemColumns.
func StudentItemsTable(status *etl.Table, courseID any, courseName string, opts ...etl.ExpandOption) (*etl.Table, error) {
	exploded, err := etl.ExplodeRows(status, itemsColumn, opts...)
	if err != nil {
		return nil, &CourseError{Reason: "Course has no items completed by students", Err: err}
	}
	t, err := etl.Apply(exploded,
		etl.ExplodeColumnsStep(itemsColumn, itemsPrefix, opts...),
		etl.ExplodeColumnsStep(requirementColumn, studentReqPrefix, opts...),
		etl.WithColumnStep("course_id", courseID),
		etl.WithColumnStep("course_name", courseName),
		etl.MapColumnStep("completed_at", cleanDatetime),
		etl.SelectStep(StudentItemColumns...),
	)
	if err != nil {
		return nil, &CourseError{
			Reason: fmt.Sprintf("Unable to expand student items for %q", courseName),
			Err:    err,
		}
	}
	return t, nil
}

// BuildCourseTables produces the four exports of one course. opts apply to
// every list and object expansion.
func BuildCourseTables(ctx context.Context, client etl.Client, courseID string, course etl.Record, log *zap.Logger, opts ...etl.ExpandOption) (*CourseTables, error) {
	name := etl.FormatValue(course.Get("name"))

	modules, err := client.Modules(ctx, courseID, "")
	if err != nil {
		if errors.Is(err, etl.ErrInvalidAccessToken) {
			return nil, err
		}
		return nil, &CourseError{Reason: "Unable to get modules for course: " + name, Err: err}
	}
	out := &CourseTables{Modules: ModulesTable(modules)}

	if out.Items, err = ItemsTable(out.Modules, name, opts...); err != nil {
		return nil, err
	}

	log.Debug("getting student module info", zap.String("course_name", name))
	if out.StudentModules, err = StudentModulesTable(ctx, client, courseID, log); err != nil {
		return nil, err
	}

	cid := course.Get("id")
	if cid == nil {
		cid = courseID
	}
	if out.StudentItems, err = StudentItemsTable(out.StudentModules, cid, name, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Cell helpers ───────────────────────────────────────────

func asText(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return etl.FormatValue(v), nil
}

// cleanDatetime turns "2020-08-02T12:00:00Z" into "2020-08-02 12:00:00".
func cleanDatetime(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ReplaceAll(strings.ReplaceAll(s, "T", " "), "Z", ""), nil
	}
	return nil, fmt.Errorf("expected completed_at to be a string or null, got %T", v)
}
