package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/storage"
)

// Migrate moves documents from LegacyKey to CurrentKey, once. It is skipped
// when CurrentKey already holds data. Legacy records that fail structural
// validation are dropped. Errors are logged and reported as "nothing
// migrated"; Migrate never fails. Returns true if a migration was written.
func Migrate(kv KV, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}

	current, err := kv.Get(CurrentKey)
	switch {
	case err == nil && current != "":
		return false
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		logger.Warn("legacy migration skipped: reading current key", zap.Error(err))
		return false
	}

	legacy, err := kv.Get(LegacyKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && legacy == "") {
		return false
	}
	if err != nil {
		logger.Warn("legacy migration skipped: reading legacy key", zap.Error(err))
		return false
	}

	migrated, kept, dropped, err := migrateLegacy(legacy)
	if errors.Is(err, errNoLegacyTranscripts) {
		logger.Debug("legacy key holds no transcript list; leaving it in place")
		return false
	}
	if err != nil {
		logger.Warn("legacy migration skipped", zap.String("key", LegacyKey), zap.Error(err))
		return false
	}

	if err := kv.Set(CurrentKey, string(migrated)); err != nil {
		logger.Error("legacy migration: writing current key", zap.Error(err))
		return false
	}
	if err := kv.Delete(LegacyKey); err != nil {
		logger.Warn("legacy migration: removing legacy key", zap.Error(err))
	}

	logger.Info("migrated legacy documents",
		zap.Int("kept", kept),
		zap.Int("dropped", dropped),
	)
	return true
}

var errNoLegacyTranscripts = errors.New("legacy envelope has no transcripts")

// migrateLegacy parses the legacy envelope and keeps only the records that
// pass validLegacyRecord. The legacy version number is preserved so the
// schema chain upgrades the records on the next Load.
func migrateLegacy(raw string) ([]byte, int, int, error) {
	var env envelope[json.RawMessage]
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, 0, 0, fmt.Errorf("parsing legacy envelope: %w", err)
	}
	if env.State.Transcripts == nil {
		return nil, 0, 0, errNoLegacyTranscripts
	}

	var out envelope[map[string]any]
	out.Version = env.Version
	out.State.Transcripts = make([]map[string]any, 0, len(env.State.Transcripts))

	dropped := 0
	for _, msg := range env.State.Transcripts {
		var rec map[string]any
		if err := json.Unmarshal(msg, &rec); err != nil || !validLegacyRecord(rec) {
			dropped++
			continue
		}
		out.State.Transcripts = append(out.State.Transcripts, rec)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encoding migrated envelope: %w", err)
	}
	return data, len(out.State.Transcripts), dropped, nil
}

var legacyRequiredFields = []string{"id", "title", "text", "createdAt", "updatedAt"}

func validLegacyRecord(rec map[string]any) bool {
	if rec == nil {
		return false
	}
	for _, f := range legacyRequiredFields {
		if _, ok := rec[f].(string); !ok {
			return false
		}
	}
	return true
}
