package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/fitgate/internal/finetune"
	"github.com/kalambet/fitgate/internal/pipeline"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Ask(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpAsk(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]any{
		"user_id": "alice",
		"text":    "How do I improve my squat form?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp pipeline.Response
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Admitted || resp.Provider != "deepseek" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestMCPTool_Ask_MissingArgs(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpAsk(env.deps)

	for _, args := range []map[string]any{
		{"text": "squats"},
		{"user_id": "alice"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("ask", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPTool_RecallAndPurgeHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deps.Pipeline.Handle(ctx, "alice", "best deadlift workout")
	env.deps.Pipeline.Handle(ctx, "alice", "meal plan with protein")

	result, err := mcpRecallHistory(env.deps)(ctx, makeCallToolRequest("recall_history", map[string]any{
		"user_id": "alice",
		"limit":   1,
	}))
	if err != nil || result.IsError {
		t.Fatalf("recall_history failed: %v", err)
	}
	var items []storage.Interaction
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(items) != 1 || items[0].Query != "meal plan with protein" {
		t.Errorf("expected the latest interaction only, got %+v", items)
	}

	result, err = mcpPurgeHistory(env.deps)(ctx, makeCallToolRequest("purge_history", map[string]any{
		"user_id": "alice",
	}))
	if err != nil || result.IsError {
		t.Fatalf("purge_history failed: %v", err)
	}
	if !strings.Contains(toolText(t, result), "Purged 2") {
		t.Errorf("unexpected purge result: %s", toolText(t, result))
	}

	result, _ = mcpRecallHistory(env.deps)(ctx, makeCallToolRequest("recall_history", map[string]any{
		"user_id": "alice",
	}))
	if toolText(t, result) != "[]" {
		t.Errorf("expected empty history after purge, got %s", toolText(t, result))
	}
}

func TestMCPTool_FinetuneStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	handler := mcpFinetuneStatus(env.deps)

	job, err := env.deps.Jobs.Submit(ctx, []finetune.Record{{
		System: "You are a coach.", User: "How long should I rest?", Assistant: "Two minutes between heavy sets.",
	}}, finetune.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := handler(ctx, makeCallToolRequest("finetune_status", map[string]any{"job_id": job.ID}))
	if err != nil || result.IsError {
		t.Fatalf("finetune_status failed: %v", err)
	}
	var polled finetune.Job
	json.Unmarshal([]byte(toolText(t, result)), &polled)
	if polled.Status != finetune.StatusUploading {
		t.Errorf("status = %s, want uploading", polled.Status)
	}

	result, _ = handler(ctx, makeCallToolRequest("finetune_status", map[string]any{}))
	var jobs []finetune.Job
	json.Unmarshal([]byte(toolText(t, result)), &jobs)
	if len(jobs) != 1 {
		t.Errorf("list: got %d jobs, want 1", len(jobs))
	}

	result, _ = handler(ctx, makeCallToolRequest("finetune_status", map[string]any{"job_id": "missing"}))
	if !result.IsError {
		t.Error("expected tool error for unknown job")
	}
}

func TestMCPResource_Providers(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpResourceProviders(env.deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "router://providers"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var statuses []router.Status
	if err := json.Unmarshal([]byte(tc.Text), &statuses); err != nil {
		t.Fatalf("failed to parse providers: %v", err)
	}
	if len(statuses) != 1 || statuses[0].ID != "deepseek" {
		t.Errorf("unexpected providers: %+v", statuses)
	}
}

func TestNewMCPServer(t *testing.T) {
	env := newTestEnv(t)
	if s := NewMCPServer(env.deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
