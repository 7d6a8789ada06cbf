package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	runsURI      = "modprogress://runs"
	runURIPrefix = "modprogress://run/"
)

func (s *Server) registerResources() {
	// ── modprogress://runs ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		runsURI,
		"Recent Export Runs",
		mcp.WithMIMEType("application/json"),
	), s.handleRunsResource)

	// ── modprogress://run/{runId} ──────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			runURIPrefix+"{runId}",
			"Export Run Detail",
		),
		s.handleRunResource,
	)
}

func (s *Server) handleRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	runs, err := s.exports.History(0)
	if err != nil {
		return nil, err
	}
	return jsonContents(runsURI, runs)
}

func (s *Server) handleRunResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	runID := strings.TrimPrefix(uri, runURIPrefix)
	if runID == "" || runID == uri {
		return nil, fmt.Errorf("invalid run URI: %s", uri)
	}
	detail, err := s.exports.RunDetail(runID)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, detail)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
