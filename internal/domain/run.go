package domain

import "time"

// RunStatus is the overall outcome of an export run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success" // every course exported
	RunStatusPartial RunStatus = "partial" // some courses failed
	RunStatusFailed  RunStatus = "failed"  // every course failed
	RunStatusError   RunStatus = "error"   // the run itself aborted
)

// RunLog is a historical record of one export run.
type RunLog struct {
	ID               string    `json:"id"`
	Trigger          string    `json:"trigger"` // "manual" | "schedule" | "file_watch" | "mcp"
	Source           string    `json:"source"`  // registered source type the run read from
	Status           RunStatus `json:"status"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt,omitempty"`
	CoursesTotal     int       `json:"coursesTotal"`
	CoursesSucceeded int       `json:"coursesSucceeded"`
	CoursesFailed    int       `json:"coursesFailed"`
	RowsExported     int       `json:"rowsExported"`
	Error            string    `json:"error,omitempty"`
}

// CourseLog records the outcome of one course within a run.
type CourseLog struct {
	ID         string `json:"id"`
	RunID      string `json:"runId"`
	Position   int    `json:"position"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Rows       int    `json:"rows"`
}

// RunLogStore persists export history.
type RunLogStore interface {
	CreateRun(r *RunLog) error
	FinishRun(r *RunLog) error
	GetRun(id string) (*RunLog, error)
	ListRuns(limit int) ([]RunLog, error)
	AddCourseResult(c *CourseLog) error
	ListCourseResults(runID string) ([]CourseLog, error)
}
