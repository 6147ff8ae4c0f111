package store

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
)

const (
	// CurrentKey holds the persisted Documents list in the current format.
	CurrentKey = "voice-clarification-transcripts"
	// LegacyKey is the pre-versioning key, read once by Migrate and then removed.
	LegacyKey = "voice-clarification-recordings"
	// CurrentVersion is the schema version written by persistLocked.
	CurrentVersion = 1
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// envelope is the JSON shape stored under CurrentKey and LegacyKey.
type envelope[T any] struct {
	State struct {
		Transcripts []T `json:"transcripts"`
	} `json:"state"`
	Version int `json:"version"`
}

type docRecord struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Text              string           `json:"text"`
	CreatedAt         string           `json:"createdAt"`
	UpdatedAt         string           `json:"updatedAt"`
	Status            string           `json:"status,omitempty"`
	GeneratedDocument *generatedRecord `json:"generatedDocument,omitempty"`
	DesignWorkspace   *workspaceRecord `json:"designWorkspace,omitempty"`
}

type generatedRecord struct {
	Content     string   `json:"content"`
	GeneratedAt string   `json:"generatedAt"`
	ContextUsed []string `json:"contextUsed"`
}

type workspaceRecord struct {
	UploadedImages  []imageRecord          `json:"uploadedImages"`
	GeneratedPrompt *string                `json:"generatedPrompt"`
	GeneratedImages []generatedImageRecord `json:"generatedImages"`
	GenerationCount int                    `json:"generationCount"`
	LastModified    string                 `json:"lastModified"`
}

type imageRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	MimeType       string `json:"mimeType"`
	EncodedContent string `json:"encodedContent"`
	UploadedAt     string `json:"uploadedAt"`
}

type generatedImageRecord struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Prompt          string `json:"prompt"`
	CreatedAt       string `json:"createdAt"`
	GenerationCount int    `json:"generationCount"`
}

// persistLocked serializes the Documents list under CurrentKey. Failures are
// logged; the in-memory list stays authoritative. Caller holds s.mu.
func (s *Store) persistLocked() {
	data, err := Marshal(s.docs)
	if err != nil {
		s.logger.Error("serializing documents", zap.Error(err))
		return
	}
	if err := s.kv.Set(CurrentKey, string(data)); err != nil {
		s.logger.Error("persisting documents",
			zap.String("key", CurrentKey),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
	}
}

// Marshal renders docs as the versioned persistence envelope.
func Marshal(docs []document.Document) ([]byte, error) {
	var env envelope[docRecord]
	env.Version = CurrentVersion
	env.State.Transcripts = make([]docRecord, 0, len(docs))
	for _, d := range docs {
		env.State.Transcripts = append(env.State.Transcripts, toRecord(d))
	}
	return json.Marshal(env)
}

func toRecord(d document.Document) docRecord {
	rec := docRecord{
		ID:        d.ID,
		Title:     d.Title,
		Text:      d.Text,
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
		Status:    string(d.Status),
	}
	if g := d.GeneratedDocument; g != nil {
		ctx := g.ContextUsed
		if ctx == nil {
			ctx = []string{}
		}
		rec.GeneratedDocument = &generatedRecord{
			Content:     g.Content,
			GeneratedAt: formatTime(g.GeneratedAt),
			ContextUsed: ctx,
		}
	}
	if w := d.DesignWorkspace; w != nil {
		wr := &workspaceRecord{
			UploadedImages:  make([]imageRecord, 0, len(w.UploadedImages)),
			GeneratedPrompt: w.GeneratedPrompt,
			GeneratedImages: make([]generatedImageRecord, 0, len(w.GeneratedImages)),
			GenerationCount: w.GenerationCount,
			LastModified:    formatTime(w.LastModified),
		}
		for _, img := range w.UploadedImages {
			wr.UploadedImages = append(wr.UploadedImages, imageRecord{
				ID:             img.ID,
				Name:           img.Name,
				Size:           img.Size,
				MimeType:       img.MimeType,
				EncodedContent: img.EncodedContent,
				UploadedAt:     formatTime(img.UploadedAt),
			})
		}
		for _, gi := range w.GeneratedImages {
			wr.GeneratedImages = append(wr.GeneratedImages, generatedImageRecord{
				ID:              gi.ID,
				URL:             gi.URL,
				Prompt:          gi.Prompt,
				CreatedAt:       formatTime(gi.CreatedAt),
				GenerationCount: gi.GenerationCount,
			})
		}
		rec.DesignWorkspace = wr
	}
	return rec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
