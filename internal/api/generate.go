package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/ingest"
	"github.com/kalambet/voicepad/internal/pipeline"
	"github.com/kalambet/voicepad/internal/prompt"
	"github.com/kalambet/voicepad/internal/task"
)

const (
	maxUploadBodySize = 4*document.MaxImageSize + 1<<20
	maxAudioSize      = 25 << 20
)

// taskContext detaches task lifetime from the request.
func taskContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// respondTask replies 202 with the task handle, or with ?wait=true blocks
// until the task finishes and replies with the written document.
func respondTask(deps Deps, w http.ResponseWriter, r *http.Request, tk *task.Task) {
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"docId":  tk.DocID,
			"kind":   string(tk.Kind),
			"status": "started",
		})
		return
	}

	select {
	case <-tk.Done():
	case <-r.Context().Done():
		return
	}
	if err := tk.Err(); err != nil {
		writeError(w, err)
		return
	}
	doc, ok := deps.Service.Store().Document(tk.DocID)
	if !ok {
		writeError(w, task.ErrCancelled)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func handleGenerateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tk, err := deps.Service.GenerateDocument(taskContext(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		respondTask(deps, w, r, tk)
	}
}

func handleDesignPrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tk, err := deps.Service.GenerateDesignPrompt(taskContext(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		respondTask(deps, w, r, tk)
	}
}

type generateImagesRequest struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count"`
}

func handleGenerateImages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req generateImagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		tk, err := deps.Service.GenerateImages(taskContext(r), chi.URLParam(r, "id"), req.Prompt, req.Count)
		if err != nil {
			writeError(w, err)
			return
		}
		respondTask(deps, w, r, tk)
	}
}

func handleClearDesigns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Service.Store().ClearGeneratedImages(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// handleUploadImages accepts multipart "files". Each file is validated on
// its own; the response lists accepted and rejected files.
func handleUploadImages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no files provided")
			return
		}

		uploads := make([]pipeline.Upload, 0, len(headers))
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading %s: %v", fh.Filename, err)
				return
			}
			uploads = append(uploads, pipeline.Upload{
				Name:     fh.Filename,
				Data:     data,
				MimeType: fh.Header.Get("Content-Type"),
			})
		}

		res, err := deps.Service.UploadImages(chi.URLParam(r, "id"), uploads)
		if err != nil {
			writeError(w, err)
			return
		}
		code := http.StatusOK
		if len(res.Accepted) == 0 {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, res)
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func handleDeleteImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Service.Store().RemoveImage(chi.URLParam(r, "id"), chi.URLParam(r, "imageID")) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleClearImages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Service.Store().ClearImages(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// handleTranscribe accepts one multipart "audio" file.
func handleTranscribe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAudioSize+1<<20)
		f, fh, err := r.FormFile("audio")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No audio file provided")
			return
		}
		defer f.Close()
		audio, err := io.ReadAll(f)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading audio: %v", err)
			return
		}

		tk, err := deps.Service.Transcribe(taskContext(r), fh.Filename, audio)
		if err != nil {
			writeError(w, err)
			return
		}
		respondTask(deps, w, r, tk)
	}
}

// handleImport accepts one multipart "file" (text, markdown or PDF).
func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxImportSize+1<<20)
		f, fh, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file provided")
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file: %v", err)
			return
		}

		doc, err := deps.Service.ImportFile(fh.Filename, data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

type buildPromptRequest struct {
	Kind  prompt.Kind `json:"kind"`
	DocID string      `json:"docId"`
	// Selected replaces the session's selected fragments when non-nil.
	Selected *[]string `json:"selected"`
}

func handleBuildPrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req buildPromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		switch req.Kind {
		case "":
			req.Kind = prompt.KindPRD
		case prompt.KindPRD, prompt.KindDesign:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", prompt.KindPRD, prompt.KindDesign)
			return
		}
		if req.Selected != nil {
			deps.Service.Store().SetSelectedFragments(*req.Selected)
		}

		out, selected, err := deps.Service.BuildPrompt(r.Context(), req.Kind, req.DocID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"prompt":   out,
			"selected": selected,
		})
	}
}
