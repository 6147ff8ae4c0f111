package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/voicepad/internal/storage"
)

// mapSource serves documents from a map and counts loads.
type mapSource struct {
	mu    sync.Mutex
	docs  map[string]string
	loads int
}

func (m *mapSource) Load(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	v, ok := m.docs[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *mapSource) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

func TestAssemble_TranscriptOnly(t *testing.T) {
	got := Assemble(
		[]string{"raw-transcription", "master-prd-prompt"},
		Fragments{Transcript: "Hello world", Master: "GENERATE A PRD"},
	)
	want := "These are context:\n\n<Raw-transcription>\nHello world\n</Raw-transcription>\n\nGENERATE A PRD"
	assert.Equal(t, want, got)
}

func fullFragments() Fragments {
	return Fragments{
		AppDescription:    "APP",
		Transcript:        "TRANSCRIPT",
		GeneratedDocument: "PRD BODY",
		ImageNames:        []string{"a.png", "b.jpg"},
		Master:            "MASTER",
	}
}

func TestAssemble_FixedOrder(t *testing.T) {
	want := "These are context:\n\n" +
		"<App-description>\nAPP\n</App-description>\n\n" +
		"<Raw-transcription>\nTRANSCRIPT\n</Raw-transcription>\n\n" +
		"<PRD>\nPRD BODY\n</PRD>\n\n" +
		"<Provided-image-references>\na.png, b.jpg\n</Provided-image-references>\n\n" +
		"MASTER"

	orders := [][]string{
		{"app-description", "raw-transcription", "prd-x", "image-references"},
		{"image-references", "prd-x", "raw-transcription", "app-description"},
		{"prd-x", "app-description", "image-references", "raw-transcription"},
	}
	for _, sel := range orders {
		assert.Equal(t, want, Assemble(sel, fullFragments()), "selection %v", sel)
	}
}

func TestAssemble_SelectionInvariant(t *testing.T) {
	got := Assemble([]string{"raw-transcription"}, fullFragments())
	assert.NotContains(t, got, "<App-description>")
	assert.NotContains(t, got, "<PRD>")
	assert.NotContains(t, got, "<Provided-image-references>")
	assert.True(t, strings.HasSuffix(got, "MASTER"))
}

func TestAssemble_EmptyContentSkipped(t *testing.T) {
	got := Assemble(
		[]string{"app-description", "raw-transcription", "prd-x", "image-references"},
		Fragments{Master: "M"},
	)
	assert.Equal(t, "These are context:\n\nM", got)
}

func TestAssemble_Deterministic(t *testing.T) {
	sel := []string{"prd-x", "raw-transcription", "image-references"}
	assert.Equal(t, Assemble(sel, fullFragments()), Assemble(sel, fullFragments()))
}

func TestSelectedPRD(t *testing.T) {
	id, ok := SelectedPRD([]string{"raw-transcription", "prd-doc_1", "prd-doc_2"})
	assert.True(t, ok)
	assert.Equal(t, "doc_1", id)

	_, ok = SelectedPRD([]string{"prd-", "raw-transcription"})
	assert.False(t, ok)
}

func newAssembler(docs map[string]string) (*Assembler, *mapSource) {
	src := &mapSource{docs: docs}
	return NewAssembler(src, nil), src
}

func TestBuild_PRD(t *testing.T) {
	a, _ := newAssembler(map[string]string{
		AppDescriptionFile: "APP",
		PRDMasterFile:      "GENERATE A PRD",
	})

	got := a.Build(context.Background(), Input{
		Kind:       KindPRD,
		Selected:   []string{"image-references", "raw-transcription", "app-description"},
		Transcript: "Hello world",
		ImageNames: []string{"ignored.png"},
	})

	want := "These are context:\n\n" +
		"<App-description>\nAPP\n</App-description>\n\n" +
		"<Raw-transcription>\nHello world\n</Raw-transcription>\n\n" +
		"GENERATE A PRD"
	assert.Equal(t, want, got, "PRD prompts never list image references")
}

func TestBuild_DesignWithPRDAndImages(t *testing.T) {
	a, _ := newAssembler(map[string]string{DesignMasterFile: "DESIGN"})

	got := a.Build(context.Background(), Input{
		Kind:     KindDesign,
		Selected: []string{"prd-doc_1", "image-references"},
		GeneratedDocument: func(id string) (string, bool) {
			if id == "doc_1" {
				return "the prd", true
			}
			return "", false
		},
		ImageNames: []string{"one.png", "two.png"},
	})

	want := "These are context:\n\n" +
		"<PRD>\nthe prd\n</PRD>\n\n" +
		"<Provided-image-references>\none.png, two.png\n</Provided-image-references>\n\n" +
		"DESIGN"
	assert.Equal(t, want, got)
}

func TestBuild_FallbacksOnLoadFailure(t *testing.T) {
	a, _ := newAssembler(map[string]string{})

	got := a.Build(context.Background(), Input{
		Kind:     KindPRD,
		Selected: []string{"app-description"},
	})

	want := "These are context:\n\n" +
		"<App-description>\nError loading app description from: Description_of_app.md\n</App-description>\n\n" +
		"Error loading master prompt from: GENERATE_PRD.md"
	assert.Equal(t, want, got)
}

func TestBuild_SkipsAppDescriptionLoadWhenUnselected(t *testing.T) {
	a, src := newAssembler(map[string]string{PRDMasterFile: "M"})
	a.Build(context.Background(), Input{Kind: KindPRD})
	assert.Equal(t, 1, src.count())
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"Description_of_app.md", "GEN_DESIGN.md"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "notes.txt", "../secret.md", "a/b.md", `a\b.md`, "..md"} {
		assert.True(t, errors.Is(ValidateName(bad), ErrInvalidName), bad)
	}
}

func TestLibrary_EmbeddedDefaults(t *testing.T) {
	lib := NewLibrary("")
	for _, name := range []string{AppDescriptionFile, PRDMasterFile, DesignMasterFile} {
		content, err := lib.Load(context.Background(), name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, content, name)
	}

	_, err := lib.Load(context.Background(), "Missing.md")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = lib.Load(context.Background(), "../go.mod")
	assert.True(t, errors.Is(err, ErrInvalidName))
}

func TestLibrary_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PRDMasterFile), []byte("custom prd"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Extra.md"), []byte("extra"), 0o644))

	lib := NewLibrary(dir)
	got, err := lib.Load(context.Background(), PRDMasterFile)
	require.NoError(t, err)
	assert.Equal(t, "custom prd", got)

	got, err = lib.Load(context.Background(), DesignMasterFile)
	require.NoError(t, err)
	assert.NotEmpty(t, got, "falls back to embedded default")

	names, err := lib.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{AppDescriptionFile, "Extra.md", PRDMasterFile, DesignMasterFile}, names)
}

func openKV(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCachedSource_ServesFromCache(t *testing.T) {
	src := &mapSource{docs: map[string]string{"A.md": "alpha"}}
	kv := openKV(t)
	c := NewCachedSource(src, kv)

	for i := 0; i < 3; i++ {
		got, err := c.Load(context.Background(), "A.md")
		require.NoError(t, err)
		assert.Equal(t, "alpha", got)
	}
	assert.Equal(t, 1, src.count())

	raw, err := kv.Get(CacheKeyPrefix + "A.md")
	require.NoError(t, err)
	assert.Contains(t, raw, `"content":"alpha"`)
	assert.Contains(t, raw, `"timestamp":`)
}

func TestCachedSource_DurableEntryExpires(t *testing.T) {
	src := &mapSource{docs: map[string]string{"A.md": "v1"}}
	kv := openKV(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	warm := NewCachedSource(src, kv, WithCacheClock(func() time.Time { return start }))
	_, err := warm.Load(context.Background(), "A.md")
	require.NoError(t, err)

	src.docs["A.md"] = "v2"

	fresh := NewCachedSource(src, kv, WithCacheClock(func() time.Time { return start.Add(30 * time.Minute) }))
	got, err := fresh.Load(context.Background(), "A.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", got, "durable entry still valid within the hour")

	stale := NewCachedSource(src, kv, WithCacheClock(func() time.Time { return start.Add(61 * time.Minute) }))
	got, err = stale.Load(context.Background(), "A.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", got, "expired entry is refetched")
}

func TestCachedSource_Clear(t *testing.T) {
	src := &mapSource{docs: map[string]string{"A.md": "a", "B.md": "b"}}
	kv := openKV(t)
	require.NoError(t, kv.Set("voice-clarification-transcripts", "{}"))
	c := NewCachedSource(src, kv)

	for _, n := range []string{"A.md", "B.md"} {
		_, err := c.Load(context.Background(), n)
		require.NoError(t, err)
	}

	n, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := kv.Keys(CacheKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, err = kv.Get("voice-clarification-transcripts")
	assert.NoError(t, err, "unrelated keys survive")

	_, err = c.Load(context.Background(), "A.md")
	require.NoError(t, err)
	assert.Equal(t, 3, src.count())
}

func TestCachedSource_PropagatesSourceErrors(t *testing.T) {
	c := NewCachedSource(&mapSource{docs: map[string]string{}}, nil)
	_, err := c.Load(context.Background(), "Missing.md")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.Load(context.Background(), "bad.txt")
	assert.True(t, errors.Is(err, ErrInvalidName))
}
