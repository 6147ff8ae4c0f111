package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/prompt"
	"github.com/kalambet/voicepad/internal/proxy"
)

// handlePromptContent serves a static prompt document as plain text.
func handlePromptContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("file")
		if name == "" {
			name = prompt.AppDescriptionFile
		}
		if err := prompt.ValidateName(name); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Invalid file name")
			return
		}

		content, err := deps.Prompts.Load(r.Context(), name)
		if err != nil {
			deps.Logger.Warn("loading prompt content", zap.String("file", name), zap.Error(err))
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write([]byte(content))
	}
}

// handleListPrompts returns the names accepted by /prompt-content.
func handleListPrompts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := []string{}
		if deps.Catalog != nil {
			var err error
			if names, err = deps.Catalog.Names(); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"files": names})
	}
}

func handleClearPromptCache(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cache == nil {
			writeJSON(w, http.StatusOK, map[string]int{"cleared": 0})
			return
		}
		n, err := deps.Cache.Clear()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			httpError(w, http.StatusNotFound, "not_found", "model listing not available for this backend")
			return
		}
		models, err := deps.Models.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, proxy.ModelList{
			Object: "list",
			Data:   models,
		})
	}
}
