package progress

import (
	"time"

	"modprogress/internal/etl"
)

// Status is the outcome of one course within a run.
type Status string

const (
	StatusNotExecuted Status = "Not executed"
	StatusSuccess     Status = "Success"
	StatusFailed      Status = "Failed"
)

// SuccessMessage is recorded for every course whose exports were written.
const SuccessMessage = "Course folder has been created in data directory"

// CourseResult records what happened to one course.
type CourseResult struct {
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
	Rows       int    `json:"rows"`
}

// RunResult is the outcome of an export over a list of courses.
type RunResult struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
	Courses      []CourseResult `json:"courses"`
	RowsExported int            `json:"rowsExported"`
}

// Succeeded counts courses with StatusSuccess.
func (r *RunResult) Succeeded() int { return r.count(StatusSuccess) }

// Failed counts courses with StatusFailed.
func (r *RunResult) Failed() int { return r.count(StatusFailed) }

func (r *RunResult) count(s Status) int {
	n := 0
	for _, c := range r.Courses {
		if c.Status == s {
			n++
		}
	}
	return n
}

// StatusColumns are the columns of the run status table.
var StatusColumns = []string{"Course Id", "Course Name", "Status", "Message", "Data Updated On"}

// StatusTable renders one row per course, stamped with updatedAt.
func StatusTable(r *RunResult, updatedAt time.Time) *etl.Table {
	t := etl.NewTable(StatusColumns...)
	stamp := updatedAt.Format("2006-01-02 15:04:05")
	for _, c := range r.Courses {
		t.Append(c.CourseID, c.CourseName, string(c.Status), c.Message, stamp)
	}
	return t
}
