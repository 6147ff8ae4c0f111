package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/voicepad/internal/store"
)

// patchSessionRequest updates transient session state. An absent "error"
// leaves the message alone, a string sets it and an explicit null clears it.
type patchSessionRequest struct {
	SelectedFragments *[]string        `json:"selectedFragments"`
	ActiveTab         *store.Tab       `json:"activeTab"`
	Error             json.RawMessage  `json:"error"`
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Service.Store().Session())
	}
}

func handlePatchSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req patchSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		st := deps.Service.Store()
		if req.ActiveTab != nil && !req.ActiveTab.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown tab %q", *req.ActiveTab)
			return
		}

		var errMsg *string
		clearErr := string(req.Error) == "null"
		if len(req.Error) > 0 && !clearErr {
			var msg string
			if err := json.Unmarshal(req.Error, &msg); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "error must be a string or null")
				return
			}
			errMsg = &msg
		}

		if req.SelectedFragments != nil {
			st.SetSelectedFragments(*req.SelectedFragments)
		}
		if req.ActiveTab != nil {
			st.SetActiveTab(*req.ActiveTab)
		}
		switch {
		case errMsg != nil:
			st.SetError(*errMsg)
		case clearErr:
			st.ClearError()
		}

		writeJSON(w, http.StatusOK, st.Session())
	}
}

func handleRecording(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		st := deps.Service.Store()
		switch req.Action {
		case "start":
			st.StartRecording()
		case "pause":
			st.PauseRecording()
		case "resume":
			st.ResumeRecording()
		case "stop":
			st.StopRecording()
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be one of start, pause, resume, stop")
			return
		}
		writeJSON(w, http.StatusOK, st.Session())
	}
}
