package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mailpilot/internal/core"
	"mailpilot/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer represents the MCP server that handles protocol communication.
type MCPServer struct {
	store      *store.Store
	supervisor *core.Supervisor
	logger     *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(store *store.Store, supervisor *core.Supervisor, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		store:      store,
		supervisor: supervisor,
		logger:     logger,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"mailpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register all tools
	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")

	// Start the stdio server
	return server.ServeStdio(mcpServer)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	// mail_status
	mcpServer.AddTool(mcp.NewTool("mail_status",
		mcp.WithDescription("Report the automation loop status: running state, authentication, cycle count and next scheduled run"),
	), s.handleStatus)

	// mail_start
	mcpServer.AddTool(mcp.NewTool("mail_start",
		mcp.WithDescription("Start the browser automation session and its processing loop"),
		mcp.WithString("credential",
			mcp.Description("Account credential override for this run (optional)"),
		),
		mcp.WithBoolean("headless",
			mcp.Description("Override the configured headless browser setting (optional)"),
		),
	), s.handleStart)

	// mail_stop
	mcpServer.AddTool(mcp.NewTool("mail_stop",
		mcp.WithDescription("Stop the running automation session and close the browser"),
	), s.handleStop)

	// mail_list_cycles
	mcpServer.AddTool(mcp.NewTool("mail_list_cycles",
		mcp.WithDescription("List recent processing cycles, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Number of cycles to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListCycles)

	// mail_submit_verification
	mcpServer.AddTool(mcp.NewTool("mail_submit_verification",
		mcp.WithDescription("Submit a two-factor verification code to the running authentication flow"),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("The numeric verification code"),
		),
	), s.handleSubmitVerification)

	s.logger.Info("MCP tools registered", "count", 5)
}

// handleStatus handles the mail_status tool call.
func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.supervisor.Status()

	if !st.Running {
		return mcp.NewToolResultText("No automation session is running."), nil
	}

	result := "Automation session running\n"
	result += fmt.Sprintf("Authenticated: %v\n", st.Authenticated)
	result += fmt.Sprintf("Cycles completed: %d\n", st.CycleCount)
	result += fmt.Sprintf("OAuth failures: %d\n", st.OAuthFailures)
	result += fmt.Sprintf("Next run: %s\n", formatTime(st.NextRunAt))
	if st.LastCycle != nil {
		outcome := "succeeded"
		if !st.LastCycle.Succeeded {
			outcome = "failed: " + st.LastCycle.Error
		}
		result += fmt.Sprintf("Last cycle: #%d started %s, %s\n",
			st.LastCycle.Seq, formatTime(&st.LastCycle.StartedAt), outcome)
	}
	if len(st.RecentErrors) > 0 {
		result += "Recent errors:\n"
		for _, e := range st.RecentErrors {
			result += fmt.Sprintf("  - %s\n", e)
		}
	}
	return mcp.NewToolResultText(result), nil
}

// handleStart handles the mail_start tool call.
func (s *MCPServer) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := core.StartOptions{
		Credential: mcp.ParseString(request, "credential", ""),
	}
	// Headless only overrides the configured value when the argument is present.
	if args := request.GetArguments(); args != nil {
		if _, ok := args["headless"]; ok {
			headless := mcp.ParseBoolean(request, "headless", true)
			opts.Headless = &headless
		}
	}

	if err := s.supervisor.Start(ctx, opts); err != nil {
		if errors.Is(err, core.ErrAlreadyRunning) {
			return mcp.NewToolResultError("An automation session is already running."), nil
		}
		s.logger.Error("start session", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start the session: %v", err)), nil
	}
	return mcp.NewToolResultText("Automation session started."), nil
}

// handleStop handles the mail_stop tool call.
func (s *MCPServer) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.supervisor.Stop()
	return mcp.NewToolResultText("Automation session stopped."), nil
}

// handleListCycles handles the mail_list_cycles tool call.
func (s *MCPServer) handleListCycles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	recs, err := s.store.ListCycles(ctx, limit)
	if err != nil {
		s.logger.Error("list cycles", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list cycles: %v", err)), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("No cycles recorded yet."), nil
	}

	result := fmt.Sprintf("Found %d cycles:\n\n", len(recs))
	for _, rec := range recs {
		outcome := "ok"
		if !rec.Succeeded {
			outcome = "failed: " + rec.Error
		}
		result += fmt.Sprintf("#%d %s (%s)\n", rec.Seq, formatTime(&rec.StartedAt), outcome)
		if rec.WindowStart != nil && rec.WindowEnd != nil {
			result += fmt.Sprintf("  Window: %s - %s\n",
				formatTime(rec.WindowStart), formatTime(rec.WindowEnd))
		}
		if rec.NextRunAt != nil {
			result += fmt.Sprintf("  Next run: %s\n", formatTime(rec.NextRunAt))
		}
	}
	return mcp.NewToolResultText(result), nil
}

// handleSubmitVerification handles the mail_submit_verification tool call.
func (s *MCPServer) handleSubmitVerification(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code := strings.TrimSpace(mcp.ParseString(request, "code", ""))
	if code == "" {
		return mcp.NewToolResultError("A verification code is required."), nil
	}

	if err := s.supervisor.SubmitVerificationCode(code); err != nil {
		if errors.Is(err, core.ErrNotRunning) {
			return mcp.NewToolResultError("No automation session is running."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit the code: %v", err)), nil
	}
	return mcp.NewToolResultText("Verification code submitted to the running flow."), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
