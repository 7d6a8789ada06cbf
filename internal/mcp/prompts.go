package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("review_failed_courses",
		mcp.WithPromptDescription("Explain why courses failed in an export run and what to fix"),
		mcp.WithArgument("runId",
			mcp.ArgumentDescription("Run to review; defaults to the latest run"),
		),
	), s.handleReviewPrompt)
}

func (s *Server) handleReviewPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	runID := req.Params.Arguments["runId"]
	target := "the most recent run (use list_runs to find it)"
	if runID != "" {
		target = fmt.Sprintf("run %s", runID)
	}
	return &mcp.GetPromptResult{
		Description: "Review failed courses of an export run",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Review %s of the module progress export. Follow these steps:

1. Use get_run to load the run and its course results
2. Group the failed courses by message
3. For each group explain the likely cause:
   - "User not authorized" means the token's user lacks access to the course
   - "Not Found Error" means the course id in the entitlements file is wrong
   - "Course must have students enrolled" means the course has no student enrollments
   - "Unable to expand module items" means a module without items
4. Suggest which entitlements rows to fix before the next run_export`, target),
				},
			},
		},
	}, nil
}
