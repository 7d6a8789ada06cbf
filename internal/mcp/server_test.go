package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modprogress/internal/domain"
	"modprogress/internal/etl"
	_ "modprogress/internal/etl/sources"
	"modprogress/internal/progress"
	"modprogress/internal/service"
	"modprogress/internal/storage"
)

type stubRunner struct {
	got []string
}

func (r *stubRunner) Run(_ context.Context, runID string, courseIDs []string) (*progress.RunResult, error) {
	r.got = courseIDs
	res := &progress.RunResult{ID: runID}
	for _, id := range courseIDs {
		st := progress.StatusSuccess
		if id == "404" {
			st = progress.StatusFailed
		}
		res.Courses = append(res.Courses, progress.CourseResult{CourseID: id, Status: st})
	}
	return res, nil
}

func newTestServer(t *testing.T) (*Server, *stubRunner) {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := &stubRunner{}
	svc := service.NewExportService(storage.NewRunStore(db), r, nil, &service.MockEmitter{}, nil, service.ExportConfig{Source: "canvas"})
	return New(Deps{Exports: svc}), r
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) string {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

// ─────────────────────────────────────────────────────────────
// Tools
// ─────────────────────────────────────────────────────────────

func TestRunExportThenGetRun(t *testing.T) {
	s, r := newTestServer(t)

	out := callTool(t, s.handleRunExport, map[string]any{"courseIds": []any{"101", "404"}})
	var run domain.RunLog
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, []string{"101", "404"}, r.got)
	assert.Equal(t, domain.RunStatusPartial, run.Status)
	assert.Equal(t, service.TriggerMCP, run.Trigger)

	out = callTool(t, s.handleGetRun, map[string]any{"runId": run.ID})
	var detail service.RunDetail
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	require.Len(t, detail.Courses, 2)
	assert.Equal(t, "404", detail.Courses[1].CourseID)
	assert.Equal(t, "Failed", detail.Courses[1].Status)

	out = callTool(t, s.handleListRuns, map[string]any{"limit": float64(5)})
	var runs []domain.RunLog
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestRunExport_CommaSeparatedIDs(t *testing.T) {
	s, r := newTestServer(t)
	callTool(t, s.handleRunExport, map[string]any{"courseIds": "7, 8,,9"})
	assert.Equal(t, []string{"7", "8", "9"}, r.got)
}

func TestGetRun_RequiresID(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.handleGetRun(context.Background(), mcp.CallToolRequest{})
	assert.Error(t, err)
}

func TestListSources(t *testing.T) {
	s, _ := newTestServer(t)
	out := callTool(t, s.handleListSources, nil)

	var specs []etl.SourceSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	types := make([]string, len(specs))
	for i, sp := range specs {
		types[i] = sp.Type
	}
	assert.Contains(t, types, "canvas")
	assert.Contains(t, types, "json_file")
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func TestStringList(t *testing.T) {
	got, err := stringList([]any{"1", float64(22), " 3 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "22", "3"}, got)

	got, err = stringList(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = stringList(map[string]any{})
	assert.Error(t, err)

	_, err = stringList([]any{true})
	assert.Error(t, err)
}

func TestIntArg(t *testing.T) {
	assert.Equal(t, 5, intArg(map[string]any{"limit": float64(5)}, "limit", 20))
	assert.Equal(t, 20, intArg(map[string]any{}, "limit", 20))
	assert.Equal(t, 20, intArg(nil, "limit", 20))
}
