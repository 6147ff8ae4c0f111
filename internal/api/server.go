// Package api exposes the document store and generation flows over HTTP
// and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/ingest"
	"github.com/kalambet/voicepad/internal/pipeline"
	"github.com/kalambet/voicepad/internal/prompt"
	"github.com/kalambet/voicepad/internal/proxy"
	"github.com/kalambet/voicepad/internal/store"
	"github.com/kalambet/voicepad/internal/task"
)

const maxRequestBodySize = 1 << 20 // 1MB

// PromptSource serves static prompt documents by filename.
type PromptSource interface {
	Load(ctx context.Context, name string) (string, error)
}

// PromptLister lists the available static prompt documents.
type PromptLister interface {
	Names() ([]string, error)
}

// CacheClearer drops cached prompt documents.
type CacheClearer interface {
	Clear() (int, error)
}

// ModelLister lists the models of the text generation backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]proxy.Model, error)
}

type Deps struct {
	Service *pipeline.Service
	Prompts PromptSource
	Catalog PromptLister // optional
	Cache   CacheClearer // optional
	Models  ModelLister  // optional
	Token   string
	// MCP is mounted at /mcp behind bearer auth when non-nil.
	MCP    http.Handler
	Logger *zap.Logger
}

// NewHandler builds the HTTP API. /health and /prompt-content are public;
// everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Get("/prompt-content", handlePromptContent(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token, deps.Logger))

		r.Get("/state", handleState(deps))
		r.Get("/session", handleGetSession(deps))
		r.Patch("/session", handlePatchSession(deps))
		r.Post("/session/recording", handleRecording(deps))
		r.Put("/focus", handleFocus(deps))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleCreateDocument(deps))
		r.Delete("/documents", handleClearDocuments(deps))
		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", handleGetDocument(deps))
			r.Patch("/", handlePatchDocument(deps))
			r.Delete("/", handleDeleteDocument(deps))

			r.Post("/images", handleUploadImages(deps))
			r.Delete("/images", handleClearImages(deps))
			r.Delete("/images/{imageID}", handleDeleteImage(deps))

			r.Post("/generate", handleGenerateDocument(deps))
			r.Post("/design-prompt", handleDesignPrompt(deps))
			r.Post("/designs", handleGenerateImages(deps))
			r.Delete("/designs", handleClearDesigns(deps))
		})

		r.Post("/transcribe", handleTranscribe(deps))
		r.Post("/import", handleImport(deps))
		r.Get("/export", handleExport(deps))

		r.Post("/prompt/build", handleBuildPrompt(deps))
		r.Get("/prompts", handleListPrompts(deps))
		r.Delete("/prompt-cache", handleClearPromptCache(deps))
		r.Get("/models", handleModels(deps))

		if deps.MCP != nil {
			r.Handle("/mcp", deps.MCP)
		}
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ready":  deps.Service.Store().Ready(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps domain and service errors onto the error envelope.
func writeError(w http.ResponseWriter, err error) {
	var (
		se *proxy.ServiceError
		ve *document.ValidationError
	)
	switch {
	case errors.As(err, &se):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(se.Status)
		body := map[string]any{"message": se.Message, "type": se.Class()}
		if se.Details != "" {
			body["details"] = se.Details
		}
		json.NewEncoder(w).Encode(map[string]any{"error": body})
	case errors.As(err, &ve):
		code := http.StatusBadRequest
		if errors.Is(err, document.ErrImageTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		httpError(w, code, "invalid_request_error", "%s", ve.Error())
	case errors.Is(err, pipeline.ErrNoDocument), errors.Is(err, prompt.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, store.ErrDuplicateID):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	case errors.Is(err, ingest.ErrTooLarge):
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "%v", err)
	case errors.Is(err, store.ErrInvalidDocument), errors.Is(err, pipeline.ErrNoPrompt),
		errors.Is(err, prompt.ErrInvalidName), errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrEmpty):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, pipeline.ErrNotConfigured):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	case errors.Is(err, task.ErrCancelled):
		httpError(w, http.StatusConflict, "cancelled", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
