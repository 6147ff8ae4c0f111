package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/voicepad/internal/config"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"document not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestDocumentsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /documents": `[{"id":"transcript_1_abc","title":"Kickoff","status":"completed","updatedAt":"2025-03-01T09:30:00Z","generatedDocument":{"generatedAt":"2025-03-01T09:31:00Z"}}]`,
	})

	resp, err := ts.client().get(ctx, "/documents?sort=recent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var docs []documentRow
	if err := decodeJSON(resp, &docs); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Generated == nil {
		t.Error("expected generated document marker")
	}
	if ts.requests[0].Path != "/documents?sort=recent" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestFormatDocumentRow(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	row := documentRow{
		ID:        "transcript_1_abc",
		Title:     strings.Repeat("x", 70),
		Status:    "completed",
		UpdatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local),
	}
	got := formatDocumentRow(row)
	if !strings.HasPrefix(got, "  transcript_1_abc  completed  2025-03-01 09:30  ") {
		t.Errorf("unexpected row: %q", got)
	}
	if !strings.HasSuffix(got, strings.Repeat("x", 60)+"...") {
		t.Errorf("title not truncated: %q", got)
	}

	row.Generated = &struct {
		GeneratedAt time.Time `json:"generatedAt"`
	}{}
	if !strings.HasPrefix(formatDocumentRow(row), "* ") {
		t.Error("expected generated marker")
	}
}

func TestDocumentsShow_MissingArg(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"documents", "show"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention args", err.Error())
	}
}

func TestUpload_Multipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /import": `{"id":"transcript_2_def","title":"notes","status":"completed"}`,
	})

	resp, err := ts.client().upload(ctx, "/import", "file", "/tmp/dir/notes.md", []byte("# Notes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc documentRow
	if err := decodeJSON(resp, &doc); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if doc.ID != "transcript_2_def" {
		t.Errorf("id = %q", doc.ID)
	}

	r := ts.requests[0]
	if !strings.HasPrefix(r.ContentType, "multipart/form-data; boundary=") {
		t.Errorf("content type = %q", r.ContentType)
	}
	if !strings.Contains(r.Body, `name="file"; filename="notes.md"`) {
		t.Errorf("multipart body missing file part: %q", r.Body)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
}

func TestPromptBuildRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /prompt/build": `{"prompt":"These are context:\n\nGENERATE A PRD","selected":[]}`,
	})

	resp, err := ts.client().post(ctx, "/prompt/build", map[string]any{
		"kind":     "design",
		"docId":    "transcript_1_abc",
		"selected": []string{"raw-transcription"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.Prompt != "These are context:\n\nGENERATE A PRD" {
		t.Errorf("prompt = %q", out.Prompt)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["kind"] != "design" || sent["docId"] != "transcript_1_abc" {
		t.Errorf("unexpected body: %v", sent)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok","ready":true}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		w.Write([]byte(`{"error":{"message":"API quota exceeded","type":"rate_limited"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := client.post(ctx, "/documents/x/generate?wait=true", nil)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if err.Error() != "server returned 429: API quota exceeded" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDecodeJSON_RawBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		w.Write([]byte("bad gateway"))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/models")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	var result any
	err = decodeJSON(resp, &result)
	if err == nil || !strings.Contains(err.Error(), "502: bad gateway") {
		t.Errorf("error = %v", err)
	}
}

func TestDeleteDocuments_CollectsFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(404)
			w.Write([]byte(`{"error":{"message":"document not found","type":"not_found"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"deleted"}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "test", httpClient: ts.Client()}

	failures, err := deleteDocuments(ctx, client, []string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4200
	cfg.Gemini.APIKey = "secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4200" {
			found = true
		}
		if strings.Contains(k.Value, "secret") {
			t.Errorf("secret leaked in %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4200 in ShowAll output")
	}
}

func TestEnabledLabel(t *testing.T) {
	if got := enabledLabel(false, "x"); got != "disabled" {
		t.Errorf("got %q", got)
	}
	if got := enabledLabel(true, "whisper-1"); got != "enabled (whisper-1)" {
		t.Errorf("got %q", got)
	}
}

func TestStatusLinesGoToStderr(t *testing.T) {
	oldW, oldColor := stderr, noColor
	defer func() { stderr, noColor = oldW, oldColor }()

	var buf bytes.Buffer
	stderr = &buf
	noColor = true

	printStatus("Documents", "%d", 3)
	printSuccess("Deleted %d document(s)", 2)

	want := "  Documents: 3\n✓ Deleted 2 document(s)\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestPromptList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /prompts": `{"files":["Description_of_app.md","GENERATE_PRD.md"]}`,
	})
	old := newAPIClient
	defer func() { newAPIClient = old }()
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }

	promptListCmd.SetContext(ctx)
	if err := promptListCmd.RunE(promptListCmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Path != "/prompts" {
		t.Fatalf("requests = %+v", ts.requests)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}
