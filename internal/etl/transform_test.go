package etl_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modprogress/internal/etl"
)

func TestRename_KeepsPosition(t *testing.T) {
	in := etl.NewTable("id", "name", "x")
	in.Append(1, "a", true)

	got := etl.Rename(in, map[string]string{"id": "module_id", "unknown": "y"})
	assert.Equal(t, []string{"module_id", "name", "x"}, got.Columns)
	assert.Equal(t, 1, got.Rows[0]["module_id"])
	assert.Equal(t, []string{"id", "name", "x"}, in.Columns, "input untouched")
}

func TestRename_OntoExistingColumn(t *testing.T) {
	in := etl.NewTable("id", "module_id")
	in.Append(1, 99)

	got := etl.Rename(in, map[string]string{"id": "module_id"})
	assert.Equal(t, []string{"module_id"}, got.Columns)
	assert.Equal(t, 1, got.Rows[0]["module_id"])
}

func TestSelect(t *testing.T) {
	in := etl.NewTable("a", "b", "c")
	in.Append(1, 2, 3)

	got, err := etl.Select(in, "c", "a")
	require.NoError(t, err)
	want := &etl.Table{Columns: []string{"c", "a"}, Rows: []etl.Row{{"c": 3, "a": 1}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Select mismatch (-want +got):\n%s", diff)
	}

	_, err = etl.Select(in, "a", "zzz")
	assert.ErrorIs(t, err, etl.ErrColumnNotFound)
}

func TestWithColumnAndMapColumn(t *testing.T) {
	in := etl.NewTable("completed_at")
	in.Append("2020-08-02T12:00:00Z")
	in.Append(nil)

	got, err := etl.Apply(in,
		etl.WithColumnStep("course_id", "42"),
		etl.MapColumnStep("completed_at", func(v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return v, nil
			}
			return strings.TrimSuffix(s, "Z"), nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"completed_at", "course_id"}, got.Columns)
	assert.Equal(t, "2020-08-02T12:00:00", got.Rows[0]["completed_at"])
	assert.Nil(t, got.Rows[1]["completed_at"])
	assert.Equal(t, "42", got.Rows[1]["course_id"])
}

func TestApply_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	_, err := etl.Apply(etl.NewTable("a"),
		func(*etl.Table) (*etl.Table, error) { return nil, boom },
		func(t *etl.Table) (*etl.Table, error) { called = true; return t, nil },
	)
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestConcat_UnionOfColumns(t *testing.T) {
	a := etl.NewTable("x", "y")
	a.Append(1, 2)
	b := etl.NewTable("y", "z")
	b.Append(3, 4)

	got := etl.Concat(a, nil, b)
	want := &etl.Table{
		Columns: []string{"x", "y", "z"},
		Rows: []etl.Row{
			{"x": 1, "y": 2, "z": nil},
			{"x": nil, "y": 3, "z": 4},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Concat mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, etl.Concat().Len())
}

func TestLeftJoin_TextEqualKeys(t *testing.T) {
	left := etl.NewTable("student_id", "state")
	left.Append(json.Number("7"), "completed")
	left.Append(json.Number("8"), "locked")
	left.Append(nil, "unlocked")

	right := etl.NewTable("created_at", "user_id", "state")
	right.Append("2020-01-01", "7", "active")

	got, err := etl.LeftJoin(left, right, "student_id", "user_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"student_id", "state", "created_at", "user_id", "state_right"}, got.Columns)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, "2020-01-01", got.Rows[0]["created_at"])
	assert.Equal(t, "active", got.Rows[0]["state_right"])
	assert.Nil(t, got.Rows[1]["created_at"])
	assert.Nil(t, got.Rows[2]["user_id"])
}

func TestLeftJoin_SharedKeyAppearsOnce(t *testing.T) {
	left := etl.NewTable("id", "a")
	left.Append(1, "x")
	right := etl.NewTable("id", "b")
	right.Append(1, "y")

	got, err := etl.LeftJoin(left, right, "id", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "a", "b"}, got.Columns)
	assert.Equal(t, "y", got.Rows[0]["b"])

	_, err = etl.LeftJoin(left, right, "nope", "id")
	assert.ErrorIs(t, err, etl.ErrColumnNotFound)
}
