package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/pipeline"
	"github.com/kalambet/voicepad/internal/prompt"
)

const mcpPreviewRunes = 200

// NewMCPServer creates an MCP server exposing the document store.
func NewMCPServer(svc *pipeline.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"voicepad",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("voicepad: voice transcripts and the product documents generated from them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List stored transcripts with id, title, status and a short preview."),
		),
		mcpListDocuments(svc),
	)

	s.AddTool(
		mcp.NewTool("get_document",
			mcp.WithDescription("Return one transcript as JSON, including any generated document and design workspace."),
			mcp.WithString("id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpGetDocument(svc),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store text as a new completed transcript."),
			mcp.WithString("title", mcp.Description("Title for the transcript"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Transcript body"), mcp.Required()),
		),
		mcpAddDocument(svc),
	)

	s.AddTool(
		mcp.NewTool("assemble_prompt",
			mcp.WithDescription("Assemble a PRD or design prompt for a document from selected context fragments."),
			mcp.WithString("id", mcp.Description("Document id; defaults to the focused document")),
			mcp.WithString("kind", mcp.Description("prd or design (default prd)")),
			mcp.WithArray("fragments", mcp.Description("Fragment ids, e.g. app-description, raw-transcription, prd-<id>, image-references. Defaults to the session selection.")),
		),
		mcpAssemblePrompt(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"voicepad://documents",
			"Transcripts",
			mcp.WithResourceDescription("All transcripts (previews only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"voicepad://session",
			"Session",
			mcp.WithResourceDescription("Focused document, selected fragments and status flags"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(svc),
	)

	return s
}

type documentSummary struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       document.Status `json:"status"`
	UpdatedAt    string          `json:"updated_at"`
	Preview      string          `json:"preview"`
	HasGenerated bool            `json:"has_generated_document"`
}

func summarize(docs []document.Document) []documentSummary {
	out := make([]documentSummary, len(docs))
	for i, d := range docs {
		preview := d.Text
		if utf8.RuneCountInString(preview) > mcpPreviewRunes {
			runes := []rune(preview)
			preview = string(runes[:mcpPreviewRunes]) + "..."
		}
		out[i] = documentSummary{
			ID:           d.ID,
			Title:        d.Title,
			Status:       d.Status,
			UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
			Preview:      preview,
			HasGenerated: d.GeneratedDocument != nil,
		}
	}
	return out
}

func mcpListDocuments(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(summarize(svc.Store().Documents()))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetDocument(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		doc, ok := svc.Store().Document(id)
		if !ok {
			return mcpError(fmt.Sprintf("document %s not found", id)), nil
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal document: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		doc := document.New(title, text, document.StatusCompleted, svc.Now())
		if err := svc.Store().AddDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored document %s", doc.ID)), nil
	}
}

func mcpAssemblePrompt(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind := prompt.Kind(req.GetString("kind", string(prompt.KindPRD)))
		if kind != prompt.KindPRD && kind != prompt.KindDesign {
			return mcpError("kind must be prd or design"), nil
		}
		if fragments := req.GetStringSlice("fragments", nil); fragments != nil {
			svc.Store().SetSelectedFragments(fragments)
		}

		out, _, err := svc.BuildPrompt(ctx, kind, req.GetString("id", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(out), nil
	}
}

func mcpResourceDocuments(svc *pipeline.Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(summarize(svc.Store().Documents()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
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

func mcpResourceSession(svc *pipeline.Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(svc.Store().Session())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
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
