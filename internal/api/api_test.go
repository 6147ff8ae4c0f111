package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/pipeline"
	"github.com/kalambet/voicepad/internal/prompt"
	"github.com/kalambet/voicepad/internal/proxy"
	"github.com/kalambet/voicepad/internal/storage"
	"github.com/kalambet/voicepad/internal/store"
	"github.com/kalambet/voicepad/internal/task"
)

const testToken = "test-token"

type mapSource map[string]string

func (m mapSource) Load(_ context.Context, name string) (string, error) {
	if err := prompt.ValidateName(name); err != nil {
		return "", err
	}
	v, ok := m[name]
	if !ok {
		return "", prompt.ErrNotFound
	}
	return v, nil
}

type stubText struct {
	out string
	err error
}

func (s stubText) Generate(context.Context, proxy.TextRequest) (string, error) {
	return s.out, s.err
}

// blockingText holds every request until release is closed or the task
// is cancelled.
type blockingText struct{ release chan struct{} }

func (b blockingText) Generate(ctx context.Context, _ proxy.TextRequest) (string, error) {
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type countingCache struct{ cleared int }

func (c *countingCache) Clear() (int, error) {
	c.cleared++
	return 3, nil
}

func newTestService(t *testing.T, text proxy.TextGenerator) *pipeline.Service {
	t.Helper()
	kv, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	st := store.New(kv)
	st.Init()

	return pipeline.New(pipeline.Deps{
		Store:     st,
		Tasks:     task.NewRegistry(2, nil),
		Assembler: prompt.NewAssembler(testPrompts(), nil),
		Text:      text,
	})
}

func testPrompts() mapSource {
	return mapSource{
		prompt.AppDescriptionFile: "An app.",
		prompt.PRDMasterFile:      "GENERATE A PRD",
		prompt.DesignMasterFile:   "GENERATE A DESIGN",
	}
}

func newTestHandler(t *testing.T, text proxy.TextGenerator) (http.Handler, *pipeline.Service) {
	t.Helper()
	svc := newTestService(t, text)
	return NewHandler(Deps{
		Service: svc,
		Prompts: testPrompts(),
		Cache:   &countingCache{},
		Token:   testToken,
	}), svc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func TestHealthIsPublic(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","ready":true}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_error", decode[errorBody](t, rec).Error.Type)
}

func TestPromptContent(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prompt-content", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "An app.", rec.Body.String())
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	for _, bad := range []string{"../secret.md", "notes.txt", "a%2Fb.md"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prompt-content?file="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prompt-content?file=Missing.md", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPrompts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Retro.md"), []byte("# Retro"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	h := NewHandler(Deps{
		Service: newTestService(t, nil),
		Prompts: testPrompts(),
		Catalog: prompt.NewLibrary(dir),
		Token:   testToken,
	})
	rec := do(t, h, http.MethodGet, "/prompts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[struct {
		Files []string `json:"files"`
	}](t, rec)
	assert.Contains(t, got.Files, prompt.AppDescriptionFile)
	assert.Contains(t, got.Files, prompt.PRDMasterFile)
	assert.Contains(t, got.Files, "Retro.md")
	assert.NotContains(t, got.Files, "notes.txt")

	h, _ = newTestHandler(t, nil)
	rec = do(t, h, http.MethodGet, "/prompts", nil)
	assert.JSONEq(t, `{"files":[]}`, rec.Body.String())
}

func TestState_ReportsLiveTasks(t *testing.T) {
	text := blockingText{release: make(chan struct{})}
	svc := newTestService(t, text)
	h := NewHandler(Deps{Service: svc, Prompts: testPrompts(), Token: testToken})

	doc := document.New("Kickoff", "hello", document.StatusCompleted, svc.Now())
	require.NoError(t, svc.Store().AddDocument(doc))

	rec := do(t, h, http.MethodPost, "/documents/"+doc.ID+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[struct {
		Tasks map[string][]string `json:"tasks"`
	}](t, rec)
	assert.Equal(t, []string{string(pipeline.KindGenerateDocument)}, state.Tasks[doc.ID])

	close(text.release)
	svc.Wait()

	rec = do(t, h, http.MethodGet, "/state", nil)
	state = decode[struct {
		Tasks map[string][]string `json:"tasks"`
	}](t, rec)
	assert.Empty(t, state.Tasks)
}

func TestDocumentLifecycle(t *testing.T) {
	h, svc := newTestHandler(t, nil)

	rec := do(t, h, http.MethodPost, "/documents", map[string]string{"title": "Kickoff", "text": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[document.Document](t, rec)
	assert.Equal(t, document.StatusCompleted, created.Status)

	rec = do(t, h, http.MethodPatch, "/documents/"+created.ID, map[string]string{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	patched := decode[document.Document](t, rec)
	assert.Equal(t, "Renamed", patched.Title)
	assert.True(t, patched.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, patched.CreatedAt.Equal(created.CreatedAt))

	rec = do(t, h, http.MethodPatch, "/documents/"+created.ID, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/documents/missing", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/focus", map[string]string{"id": created.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, svc.Store().FocusedID())

	rec = do(t, h, http.MethodDelete, "/documents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.Store().FocusedID())

	rec = do(t, h, http.MethodDelete, "/documents/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/documents", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPatchSession(t *testing.T) {
	h, svc := newTestHandler(t, nil)
	svc.Store().SetError("boom")

	rec := do(t, h, http.MethodPatch, "/session", map[string]any{
		"selectedFragments": []string{"raw-transcription", "raw-transcription", "app-description"},
		"activeTab":         "generate-prd",
		"error":             nil,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[store.Session](t, rec)
	assert.Equal(t, []string{"raw-transcription", "app-description"}, sess.SelectedFragments)
	assert.Equal(t, store.TabGeneratePRD, sess.ActiveTab)
	assert.Empty(t, sess.Error)

	rec = do(t, h, http.MethodPatch, "/session", map[string]any{"error": "mic unavailable"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mic unavailable", decode[store.Session](t, rec).Error)

	rec = do(t, h, http.MethodPatch, "/session", map[string]any{"activeTab": "transcript"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mic unavailable", decode[store.Session](t, rec).Error, "absent error key keeps the message")

	rec = do(t, h, http.MethodPatch, "/session", map[string]any{"error": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[store.Session](t, rec).Error)
	assert.Empty(t, svc.Store().Session().Error)

	rec = do(t, h, http.MethodPatch, "/session", map[string]any{"error": 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/session", map[string]any{"activeTab": "settings"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/session/recording", map[string]string{"action": "start"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[store.Session](t, rec).IsRecording)
}

func TestGenerateDocument_Wait(t *testing.T) {
	h, svc := newTestHandler(t, stubText{out: "# PRD"})
	doc := document.New("A", "Hello world", document.StatusCompleted, svc.Now())
	require.NoError(t, svc.Store().AddDocument(doc))
	svc.Store().SetSelectedFragments([]string{prompt.FragmentRawTranscription})

	rec := do(t, h, http.MethodPost, "/documents/"+doc.ID+"/generate?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[document.Document](t, rec)
	require.NotNil(t, got.GeneratedDocument)
	assert.Equal(t, "# PRD", got.GeneratedDocument.Content)

	rec = do(t, h, http.MethodPost, "/documents/missing/generate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateDocument_ServiceError(t *testing.T) {
	h, svc := newTestHandler(t, stubText{err: errors.New("You exceeded your current quota")})
	doc := document.New("A", "a", document.StatusCompleted, svc.Now())
	require.NoError(t, svc.Store().AddDocument(doc))

	rec := do(t, h, http.MethodPost, "/documents/"+doc.ID+"/generate?wait=true", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "API quota exceeded", body.Error.Message)
	assert.Equal(t, proxy.ClassRateLimited, body.Error.Type)
}

func TestGenerate_NotConfigured(t *testing.T) {
	h, svc := newTestHandler(t, nil)
	doc := document.New("A", "a", document.StatusCompleted, svc.Now())
	require.NoError(t, svc.Store().AddDocument(doc))

	rec := do(t, h, http.MethodPost, "/documents/"+doc.ID+"/generate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func multipartBody(t *testing.T, field string, files map[string]string, contents map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, ctype := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
		hdr.Set("Content-Type", ctype)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(contents[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadImages_PartialBatch(t *testing.T) {
	h, svc := newTestHandler(t, nil)
	doc := document.New("A", "a", document.StatusCompleted, svc.Now())
	require.NoError(t, svc.Store().AddDocument(doc))

	body, ctype := multipartBody(t, "files",
		map[string]string{"ref.png": "image/png", "notes.txt": "text/plain"},
		map[string][]byte{"ref.png": []byte("png"), "notes.txt": []byte("text")},
	)
	req := httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/images", body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[pipeline.UploadResult](t, rec)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "ref.png", res.Accepted[0].Name)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "notes.txt", res.Rejected[0].Name)

	imageID := res.Accepted[0].ID
	rec = do(t, h, http.MethodDelete, "/documents/"+doc.ID+"/images/"+imageID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.Store().WorkspaceImages(doc.ID))
}

func TestImportAndExport(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	body, ctype := multipartBody(t, "file",
		map[string]string{"Kickoff.md": "text/markdown"},
		map[string][]byte{"Kickoff.md": []byte("# Kickoff\n\nShip it.")},
	)
	req := httptest.NewRequest(http.MethodPost, "/import", body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Kickoff", decode[document.Document](t, rec).Title)

	rec = do(t, h, http.MethodGet, "/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		State struct {
			Transcripts []map[string]any `json:"transcripts"`
		} `json:"state"`
		Version int `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, store.CurrentVersion, env.Version)
	require.Len(t, env.State.Transcripts, 1)
	assert.Equal(t, "Kickoff", env.State.Transcripts[0]["title"])
}

func TestBuildPrompt(t *testing.T) {
	h, svc := newTestHandler(t, nil)
	doc := document.New("A", "Hello world", document.StatusCompleted, svc.Now())
	require.NoError(t, svc.Store().AddDocument(doc))

	rec := do(t, h, http.MethodPost, "/prompt/build", map[string]any{
		"docId":    doc.ID,
		"selected": []string{"raw-transcription"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[struct {
		Prompt string `json:"prompt"`
	}](t, rec)
	assert.Equal(t,
		"These are context:\n\n<Raw-transcription>\nHello world\n</Raw-transcription>\n\nGENERATE A PRD",
		out.Prompt)

	rec = do(t, h, http.MethodPost, "/prompt/build", map[string]any{"kind": "poem"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearPromptCache(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodDelete, "/prompt-cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":3}`, rec.Body.String())
}

func TestModelsUnavailable(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/models", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "not available"))
}

func TestBearerAuth_EmptyTokenRejects(t *testing.T) {
	h := BearerAuth("", zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
