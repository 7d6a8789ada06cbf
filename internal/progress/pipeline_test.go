package progress_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modprogress/internal/etl"
	"modprogress/internal/progress"
)

func TestModulesTable_RenamesIdentityColumns(t *testing.T) {
	f := newFakeClient()
	seedCourse(t, f, "42", "Biology")

	got := progress.ModulesTable(f.modules["42"])
	assert.Equal(t, []string{
		"module_id", "module_name", "module_position", "unlock_at", "require_sequential_progress",
		"publish_final_grade", "prerequisite_module_ids", "published",
		"items_count", "items_url", "items", "course_id",
	}, got.Columns)
	assert.Equal(t, 2, got.Len())
	assert.Nil(t, got.Rows[0]["course_id"], "course_id comes from the source, not the pipeline")
}

func TestItemsTable_ExpandsItemsAndRequirements(t *testing.T) {
	f := newFakeClient()
	seedCourse(t, f, "42", "Biology")

	got, err := progress.ItemsTable(progress.ModulesTable(f.modules["42"]), "Biology")
	require.NoError(t, err)

	require.Equal(t, 2, got.Len(), "empty module dropped, one row per item")
	assert.Equal(t, []string{
		"module_id", "module_name", "course_id",
		"items_id", "items_title", "items_position", "items_indent", "items_type", "items_module_id",
		"items_completion_req_type", "items_completion_req_min_score",
	}, got.Columns)
	assert.Equal(t, "must_view", got.Rows[0]["items_completion_req_type"])
	assert.Nil(t, got.Rows[0]["items_completion_req_min_score"])
	assert.Equal(t, json.Number("7"), got.Rows[1]["items_completion_req_min_score"])
}

func TestItemsTable_ExpandOptions(t *testing.T) {
	f := newFakeClient()
	seedCourse(t, f, "42", "Biology")

	got, err := progress.ItemsTable(progress.ModulesTable(f.modules["42"]), "Biology",
		etl.KeepEmpty(), etl.StringValues())
	require.NoError(t, err)

	require.Equal(t, 3, got.Len(), "module without items kept")
	assert.Equal(t, "11", got.Rows[0]["items_id"])
	assert.Equal(t, "7", got.Rows[1]["items_completion_req_min_score"])
	assert.Equal(t, "Week 2", got.Rows[2]["module_name"])
	assert.Nil(t, got.Rows[2]["items_id"])
}

func TestItemsTable_NoItemsIsLabeledFailure(t *testing.T) {
	mods := etl.Normalize([]etl.Record{etl.RecordOf("id", 1, "name", "Empty", "items", []any{})}, []string{"id", "name", "items"})
	mods = etl.WithColumn(etl.Rename(mods, map[string]string{"id": "module_id", "name": "module_name"}), "course_id", "1")

	_, err := progress.ItemsTable(mods, "Empty Course")
	var ce *progress.CourseError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, `"Empty Course"`)
	assert.ErrorIs(t, err, etl.ErrColumnNotFound)
}

func TestStudentModulesTable_JoinsEnrollment(t *testing.T) {
	f := newFakeClient()
	seedCourse(t, f, "42", "Biology")

	got, err := progress.StudentModulesTable(context.Background(), f, "42", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	row := got.Rows[0]
	assert.Equal(t, "500", row["student_id"])
	assert.Equal(t, "500", row["user_id"])
	assert.Equal(t, "2020-01-05T10:00:00Z", row["created_at"])
	assert.Equal(t, "Ada Lovelace", row["student_name"])
	assert.Equal(t, "Lovelace, Ada", row["sortable_student_name"])
	assert.Equal(t, "A1", row["sis_user_id"])
	assert.Equal(t, "completed", row["state"])
	assert.True(t, got.HasColumn("module_id"))
}

func TestStudentModulesTable_NoStudents(t *testing.T) {
	f := newFakeClient()
	_, err := progress.StudentModulesTable(context.Background(), f, "1", zap.NewNop())
	assert.ErrorIs(t, err, progress.ErrNoStudents)
}

func TestStudentItemsTable_Projection(t *testing.T) {
	f := newFakeClient()
	seedCourse(t, f, "42", "Biology")
	status, err := progress.StudentModulesTable(context.Background(), f, "42", zap.NewNop())
	require.NoError(t, err)

	got, err := progress.StudentItemsTable(status, json.Number("42"), "Biology")
	require.NoError(t, err)

	assert.Equal(t, progress.StudentItemColumns, got.Columns)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "2020-08-02 12:00:00", got.Rows[0]["completed_at"])
	assert.Equal(t, json.Number("42"), got.Rows[0]["course_id"])
	assert.Equal(t, "Biology", got.Rows[1]["course_name"])
	assert.Equal(t, true, got.Rows[0]["item_cp_req_completed"])
	assert.Equal(t, false, got.Rows[1]["item_cp_req_completed"])
	assert.Equal(t, "Quiz", got.Rows[1]["items_title"])
}

func TestStudentItemsTable_BadCompletedAt(t *testing.T) {
	status := etl.NewTable("items", "completed_at")
	status.Append([]any{etl.RecordOf("id", 1, "completion_requirement", etl.RecordOf("type", "must_view"))}, json.Number("5"))

	_, err := progress.StudentItemsTable(status, "1", "C")
	var ce *progress.CourseError
	assert.True(t, errors.As(err, &ce))
}
