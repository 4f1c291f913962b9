package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fitgate/internal/finetune"
)

// NewMCPServer creates an MCP server exposing the query pipeline, user
// history, fine-tune status and the provider table.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"fitgate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fitgate answers fitness, nutrition, health and mental-health questions and remembers each user's recent conversation."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a fitness, nutrition, health or mental-health question. Out-of-domain questions are declined."),
			mcp.WithString("user_id", mcp.Description("Stable id of the asking user"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The question"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_history",
			mcp.WithDescription("Return a user's most recent interactions, oldest first."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of interactions (defaults to the context window)")),
		),
		mcpRecallHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("purge_history",
			mcp.WithDescription("Delete every stored interaction of a user."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpPurgeHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("finetune_status",
			mcp.WithDescription("Poll a fine-tune job, or list recent jobs when no id is given."),
			mcp.WithString("job_id", mcp.Description("Job id to poll")),
		),
		mcpFinetuneStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"router://providers",
			"Providers",
			mcp.WithResourceDescription("Registered reasoning providers with availability state, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProviders(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil || text == "" {
			return mcpError("text is required"), nil
		}
		if deps.Limiter != nil && !deps.Limiter.Allow(userID) {
			return mcpError("rate limit exceeded, try again shortly"), nil
		}

		return mcpJSON(deps.Pipeline.Handle(ctx, userID, text))
	}
}

func mcpRecallHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", 0)

		items, err := deps.History.Recent(ctx, userID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		return mcpJSON(nonNil(items))
	}
}

func mcpPurgeHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		n, err := deps.History.Purge(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("purge failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Purged %d interactions for %s", n, userID)), nil
	}
}

func mcpFinetuneStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Jobs == nil {
			return mcpError("fine-tuning is not configured"), nil
		}

		id := req.GetString("job_id", "")
		if id == "" {
			jobs, err := deps.Jobs.List(ctx, 10)
			if err != nil {
				return mcpError(fmt.Sprintf("listing jobs failed: %v", err)), nil
			}
			return mcpJSON(nonNil(jobs))
		}

		job, err := deps.Jobs.Poll(ctx, id)
		if errors.Is(err, finetune.ErrNotFound) {
			return mcpError(fmt.Sprintf("no fine-tune job %s", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("poll failed: %v", err)), nil
		}
		return mcpJSON(job)
	}
}

func mcpResourceProviders(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(nonNil(deps.Registry.Snapshot()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal providers: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
