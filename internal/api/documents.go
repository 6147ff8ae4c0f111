package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/store"
	"github.com/kalambet/voicepad/internal/task"
)

type createDocumentRequest struct {
	Title  string          `json:"title"`
	Text   string          `json:"text"`
	Status document.Status `json:"status"`
}

type patchDocumentRequest struct {
	Title                   *string          `json:"title"`
	Text                    *string          `json:"text"`
	Status                  *document.Status `json:"status"`
	RemoveGeneratedDocument bool             `json:"removeGeneratedDocument"`
}

// handleState returns the whole store plus the kinds of live tasks per
// document.
func handleState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Service.Store()
		docs := st.Documents()
		tasks := map[string][]task.Kind{}
		for _, d := range docs {
			if kinds := deps.Service.Tasks().Active(d.ID); len(kinds) > 0 {
				tasks[d.ID] = kinds
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ready":       st.Ready(),
			"transcripts": docs,
			"session":     st.Session(),
			"tasks":       tasks,
		})
	}
}

// handleListDocuments returns documents in insertion order, or most recently
// updated first with ?sort=recent.
func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := deps.Service.Store().Documents()
		if r.URL.Query().Get("sort") == "recent" {
			slices.SortStableFunc(docs, func(a, b document.Document) int {
				return b.UpdatedAt.Compare(a.UpdatedAt)
			})
		}
		if docs == nil {
			docs = []document.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleCreateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		if req.Status == "" {
			req.Status = document.StatusCompleted
		}

		doc := document.New(req.Title, req.Text, req.Status, deps.Service.Now())
		if err := deps.Service.Store().AddDocument(doc); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := deps.Service.Store().Document(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handlePatchDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req patchDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		ok, err := deps.Service.Store().UpdateDocument(id, store.Patch{
			Title:                   req.Title,
			Text:                    req.Text,
			Status:                  req.Status,
			RemoveGeneratedDocument: req.RemoveGeneratedDocument,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		doc, _ := deps.Service.Store().Document(id)
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Service.DeleteDocument(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleClearDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Service.ClearAll()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleFocus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ID != "" {
			if _, ok := deps.Service.Store().Document(req.ID); !ok {
				httpError(w, http.StatusNotFound, "not_found", "document not found")
				return
			}
		}
		deps.Service.SetFocused(req.ID)
		writeJSON(w, http.StatusOK, map[string]string{"focusedId": deps.Service.Store().FocusedID()})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := store.Marshal(deps.Service.Store().Documents())
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="voicepad-export.json"`)
		w.Write(data)
	}
}
