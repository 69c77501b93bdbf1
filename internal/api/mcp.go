package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/bookforge/internal/generation"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline Pipeline
	Learner  Learner
	Index    ChapterIndex // optional; search_chapters reports an error without it
}

// NewMCPServer creates an MCP server with the bookforge tools and resources
// registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"bookforge",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bookforge rewrites book chapters with an AI writer and reviewer and learns from your ratings."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("process_chapter",
			mcp.WithDescription("Scrape a chapter (or take pasted text), rewrite it and review it. The run then waits for a rating."),
			mcp.WithString("url", mcp.Description("Source URL of the chapter")),
			mcp.WithString("content", mcp.Description("Chapter text; used instead of scraping when set")),
			mcp.WithString("style", mcp.Description("Writing style (default modern)")),
			mcp.WithArray("focus_areas", mcp.Description("Review focus areas, e.g. grammar, clarity, flow")),
			mcp.WithBoolean("analyze", mcp.Description("Also run content analysis")),
		),
		mcpProcessChapter(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_output",
			mcp.WithDescription("Rate a processed run good or bad and save its final version. The rating teaches future runs."),
			mcp.WithString("run_id", mcp.Description("Run id returned by process_chapter"), mcp.Required()),
			mcp.WithString("rating", mcp.Description("good or bad"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional notes saved with the version")),
			mcp.WithString("final_text", mcp.Description("Edited final text; defaults to the reviewer output")),
		),
		mcpRateOutput(deps),
	)

	s.AddTool(
		mcp.NewTool("search_chapters",
			mcp.WithDescription("Semantically search saved chapters."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchChapters(deps),
	)

	s.AddTool(
		mcp.NewTool("get_suggestions",
			mcp.WithDescription("Recommended style and focus areas learned from past ratings."),
		),
		mcpGetSuggestions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"learning://stats",
			"Learning Stats",
			mcp.WithResourceDescription("Feedback totals, success rate and weight distributions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() any { return deps.Learner.Stats() }),
	)

	s.AddResource(
		mcp.NewResource(
			"learning://suggestions",
			"Learning Suggestions",
			mcp.WithResourceDescription("Current recommended configuration as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() any { return deps.Learner.Suggestions() }),
	)

	return s
}

func mcpProcessChapter(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url := strings.TrimSpace(req.GetString("url", ""))
		content := req.GetString("content", "")
		if url == "" && strings.TrimSpace(content) == "" {
			return mcpError("url or content is required"), nil
		}

		run, err := deps.Pipeline.Process(ctx, pipeline.Request{
			URL:        url,
			Content:    content,
			Style:      req.GetString("style", ""),
			FocusAreas: req.GetStringSlice("focus_areas", nil),
			Analyze:    req.GetBool("analyze", false),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("processing failed (%s): %v", generation.Classify(err), err)), nil
		}
		return mcpJSON(run)
	}
}

func mcpRateOutput(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}
		raw, err := req.RequireString("rating")
		if err != nil {
			return mcpError("rating is required"), nil
		}
		rating, err := learning.ParseRating(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		run, err := deps.Pipeline.Submit(ctx, runID, pipeline.Feedback{
			Rating:    rating,
			Notes:     req.GetString("notes", ""),
			FinalText: req.GetString("final_text", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("rating failed: %v", err)), nil
		}
		return mcpJSON(run)
	}
}

func mcpSearchChapters(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Index == nil {
			return mcpError("chapter index not available"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 100 {
			limit = 100
		}

		results, err := deps.Index.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			ID      string  `json:"id"`
			Preview string  `json:"content_preview"`
			Score   float64 `json:"similarity_score"`
			Title   any     `json:"title,omitempty"`
			Rating  any     `json:"rating,omitempty"`
			SavedAt any     `json:"timestamp,omitempty"`
		}
		hits := make([]hit, len(results))
		for i, r := range results {
			hits[i] = hit{
				ID:      r.ID,
				Preview: r.ContentPreview,
				Score:   r.SimilarityScore,
				Title:   r.Metadata["title"],
				Rating:  r.Metadata["rating"],
				SavedAt: r.Metadata["timestamp"],
			}
		}
		return mcpJSON(hits)
	}
}

func mcpGetSuggestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Learner.Suggestions())
	}
}

func mcpResourceJSON(fn func() any) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(fn())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", req.Params.URI, err)
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
