package progress_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"modprogress/internal/etl"
)

// fakeClient serves canned LMS collections keyed by course (and student).
type fakeClient struct {
	courses     map[string]etl.Record
	modules     map[string][]etl.Record
	student     map[string][]etl.Record // key: course/student
	students    map[string][]etl.Record
	enrollments map[string][]etl.Record
	errs        map[string]error // key: method/course
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		courses:     map[string]etl.Record{},
		modules:     map[string][]etl.Record{},
		student:     map[string][]etl.Record{},
		students:    map[string][]etl.Record{},
		enrollments: map[string][]etl.Record{},
		errs:        map[string]error{},
	}
}

func (f *fakeClient) Course(_ context.Context, cid string) (etl.Record, error) {
	if err := f.errs["course/"+cid]; err != nil {
		return etl.Record{}, err
	}
	c, ok := f.courses[cid]
	if !ok {
		return etl.Record{}, fmt.Errorf("course %s: %w", cid, etl.ErrNotFound)
	}
	return c, nil
}

func (f *fakeClient) Modules(_ context.Context, cid, sid string) ([]etl.Record, error) {
	if err := f.errs["modules/"+cid]; err != nil {
		return nil, err
	}
	if sid != "" {
		return f.student[cid+"/"+sid], nil
	}
	return f.modules[cid], nil
}

func (f *fakeClient) Students(_ context.Context, cid string) ([]etl.Record, error) {
	return f.students[cid], nil
}

func (f *fakeClient) Enrollments(_ context.Context, cid string) ([]etl.Record, error) {
	return f.enrollments[cid], nil
}

func records(t *testing.T, js string) []etl.Record {
	t.Helper()
	v, err := etl.ParseJSON([]byte(js))
	require.NoError(t, err)
	var out []etl.Record
	for _, item := range v.([]any) {
		out = append(out, item.(etl.Record))
	}
	return out
}

func record(t *testing.T, js string) etl.Record {
	t.Helper()
	v, err := etl.ParseJSON([]byte(js))
	require.NoError(t, err)
	return v.(etl.Record)
}

// seedCourse installs a course with two modules, one student and their progress.
func seedCourse(t *testing.T, f *fakeClient, cid, name string) {
	t.Helper()
	f.courses[cid] = record(t, fmt.Sprintf(`{"id": %s, "name": %q}`, cid, name))
	f.modules[cid] = records(t, `[
		{"id": 1, "name": "Week 1", "position": 1, "published": true, "items_count": 2, "items": [
			{"id": 11, "title": "Reading", "position": 1, "indent": 0, "type": "Page", "module_id": 1,
			 "completion_requirement": {"type": "must_view"}},
			{"id": 12, "title": "Quiz", "position": 2, "indent": 1, "type": "Quiz", "module_id": 1,
			 "completion_requirement": {"type": "min_score", "min_score": 7}}
		]},
		{"id": 2, "name": "Week 2", "position": 2, "published": false, "items_count": 0, "items": []}
	]`)
	f.students[cid] = records(t, `[{"id": 500, "name": "Ada Lovelace", "sortable_name": "Lovelace, Ada", "sis_user_id": "A1"}]`)
	f.enrollments[cid] = records(t, `[{"user_id": 500, "created_at": "2020-01-05T10:00:00Z"}]`)
	f.student[cid+"/500"] = records(t, `[
		{"id": 1, "name": "Week 1", "position": 1, "state": "completed", "completed_at": "2020-08-02T12:00:00Z",
		 "items_count": 2, "items": [
			{"id": 11, "title": "Reading", "position": 1, "indent": 0, "type": "Page", "module_id": 1,
			 "completion_requirement": {"type": "must_view", "completed": true}},
			{"id": 12, "title": "Quiz", "position": 2, "indent": 1, "type": "Quiz", "module_id": 1,
			 "completion_requirement": {"type": "min_score", "min_score": 7, "completed": false}}
		]},
		{"id": 2, "name": "Week 2", "position": 2, "state": "locked", "completed_at": null, "items_count": 0, "items": []}
	]`)
}
