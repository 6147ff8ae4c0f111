package store

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/storage"
)

// Load reads CurrentKey, upgrades the records through the schema chain and
// converts them into typed Documents. Records written by an older schema are
// written back upgraded. Any failure is logged and yields an empty list.
func Load(kv KV, logger *zap.Logger) []document.Document {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := kv.Get(CurrentKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && raw == "") {
		return nil
	}
	if err != nil {
		logger.Error("loading documents", zap.String("key", CurrentKey), zap.Error(err))
		return nil
	}

	var env envelope[Record]
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logger.Error("parsing persisted documents", zap.String("key", CurrentKey), zap.Error(err))
		return nil
	}

	records, version, err := Upgrade(env.State.Transcripts, env.Version)
	if err != nil {
		logger.Error("upgrading persisted documents", zap.Int("version", env.Version), zap.Error(err))
		return nil
	}
	if version != env.Version {
		writeUpgraded(kv, logger, records, version)
	}

	docs := make([]document.Document, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		d, ok := rehydrate(rec, logger.With(zap.Int("index", i)))
		if !ok {
			continue
		}
		if _, dup := seen[d.ID]; dup {
			logger.Warn("dropping duplicate persisted document", zap.String("doc_id", d.ID))
			continue
		}
		seen[d.ID] = struct{}{}
		docs = append(docs, d)
	}
	return docs
}

func writeUpgraded(kv KV, logger *zap.Logger, records []Record, version int) {
	var env envelope[Record]
	env.Version = version
	env.State.Transcripts = records
	data, err := json.Marshal(env)
	if err == nil {
		err = kv.Set(CurrentKey, string(data))
	}
	if err != nil {
		logger.Error("writing upgraded documents", zap.Int("version", version), zap.Error(err))
		return
	}
	logger.Info("upgraded persisted documents", zap.Int("version", version), zap.Int("documents", len(records)))
}

// rehydrate converts one decoded record into a Document, parsing every
// timestamp. Records without an id or with unreadable top-level timestamps
// are dropped. Unreadable nested timestamps become the zero time.
func rehydrate(rec Record, logger *zap.Logger) (document.Document, bool) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Warn("dropping persisted document", zap.Error(err))
		return document.Document{}, false
	}
	var r docRecord
	if err := json.Unmarshal(data, &r); err != nil {
		logger.Warn("dropping malformed persisted document", zap.Error(err))
		return document.Document{}, false
	}
	if r.ID == "" {
		logger.Warn("dropping persisted document without id")
		return document.Document{}, false
	}
	logger = logger.With(zap.String("doc_id", r.ID))

	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		logger.Warn("dropping persisted document: createdAt", zap.Error(err))
		return document.Document{}, false
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		logger.Warn("dropping persisted document: updatedAt", zap.Error(err))
		return document.Document{}, false
	}

	status := document.Status(r.Status)
	if !status.Valid() {
		if r.Status != "" {
			logger.Warn("unknown persisted status, using completed", zap.String("status", r.Status))
		}
		status = document.StatusCompleted
	}

	d := document.Document{
		ID:        r.ID,
		Title:     r.Title,
		Text:      r.Text,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Status:    status,
	}

	if g := r.GeneratedDocument; g != nil {
		ctx := g.ContextUsed
		if ctx == nil {
			ctx = []string{}
		}
		d.GeneratedDocument = &document.GeneratedDocument{
			Content:     g.Content,
			GeneratedAt: nestedTime(g.GeneratedAt, "generatedDocument.generatedAt", logger),
			ContextUsed: ctx,
		}
	}

	if w := r.DesignWorkspace; w != nil {
		ws := document.NewWorkspace(nestedTime(w.LastModified, "designWorkspace.lastModified", logger))
		ws.GeneratedPrompt = w.GeneratedPrompt
		ws.GenerationCount = w.GenerationCount
		for _, img := range w.UploadedImages {
			ref := document.ImageRef{
				ID:             img.ID,
				Name:           img.Name,
				Size:           img.Size,
				MimeType:       img.MimeType,
				EncodedContent: img.EncodedContent,
				UploadedAt:     nestedTime(img.UploadedAt, "uploadedImages.uploadedAt", logger),
			}
			if !document.ValidImageRef(ref) {
				logger.Warn("dropping invalid persisted image", zap.String("image_id", img.ID))
				continue
			}
			ws.UploadedImages = append(ws.UploadedImages, ref)
		}
		for _, gi := range w.GeneratedImages {
			ws.GeneratedImages = append(ws.GeneratedImages, document.GeneratedImage{
				ID:              gi.ID,
				URL:             gi.URL,
				Prompt:          gi.Prompt,
				CreatedAt:       nestedTime(gi.CreatedAt, "generatedImages.createdAt", logger),
				GenerationCount: gi.GenerationCount,
			})
		}
		d.DesignWorkspace = ws
	}

	return d, true
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nestedTime(s, field string, logger *zap.Logger) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := parseTime(s)
	if err != nil {
		logger.Warn("unreadable persisted timestamp", zap.String("field", field), zap.Error(err))
		return time.Time{}
	}
	return t
}
