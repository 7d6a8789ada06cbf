package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"modprogress/internal/etl"
	"modprogress/internal/service"
)

func (s *Server) registerExportTools() {
	s.mcp.AddTool(mcp.NewTool("run_export",
		mcp.WithDescription("Run the module progress export. Rewrites the BI export folder and records a run in the history. Without courseIds the entitlements file decides which courses are exported."),
		mcp.WithArray("courseIds", mcp.Description("Course ids to export (optional)"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunExport)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent export runs, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.handleListRuns)

	s.mcp.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get one export run with the status and message of every course"),
		mcp.WithString("runId", mcp.Description("Run ID"), mcp.Required()),
	), s.handleGetRun)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available LMS source types with their configuration fields"),
	), s.handleListSources)
}

func (s *Server) handleRunExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	courseIDs, err := stringList(req.GetArguments()["courseIds"])
	if err != nil {
		return nil, fmt.Errorf("parse courseIds: %w", err)
	}

	run, err := s.exports.RunExport(ctx, service.TriggerMCP, courseIDs)
	if errors.Is(err, service.ErrExportRunning) {
		return textResult("An export is already running; try again once it finishes"), nil
	}
	if run == nil {
		return nil, fmt.Errorf("run export: %w", err)
	}
	// A recorded run carries its own error message.
	return jsonResult(run)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.exports.History(intArg(req.GetArguments(), "limit", 0))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return jsonResult(runs)
}

func (s *Server) handleGetRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("runId", "")
	if runID == "" {
		return nil, fmt.Errorf("runId is required")
	}
	detail, err := s.exports.RunDetail(runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return jsonResult(detail)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(etl.ListSources())
}
