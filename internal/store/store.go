// Package store holds the in-memory Document Store, mirrors its documents to
// durable key/value storage after every mutation, and restores them (with
// legacy migration and schema upgrades) at bootstrap.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
)

var (
	// ErrDuplicateID is returned by AddDocument when the id is already present.
	ErrDuplicateID = errors.New("duplicate document id")
	// ErrInvalidDocument is returned for malformed arguments (programmer errors).
	ErrInvalidDocument = errors.New("invalid document")
)

// KV is the durable key/value storage the store persists into.
// Implemented by storage.Store.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed persistence and migration failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now (for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store owns every Document. Readers get deep copies; all changes go
// through the mutation methods, each of which persists the document list.
type Store struct {
	kv     KV
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	docs    []document.Document
	session Session
	ready   bool
}

// New creates an empty Store backed by kv. Call Init before serving reads.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		logger:  zap.NewNop(),
		now:     time.Now,
		session: newSession(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init runs the legacy migration and rehydrates documents from durable
// storage. Failures are logged and leave the store empty; Ready reports
// true afterwards either way.
func (s *Store) Init() {
	Migrate(s.kv, s.logger)

	docs := Load(s.kv, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
	s.ready = true
	s.logger.Info("document store ready", zap.Int("documents", len(docs)))
}

// Ready reports whether Init has completed.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Reset drops all in-memory state without touching durable storage.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.session = newSession()
	s.ready = false
}

// --- Reads ---

// Documents returns copies of all documents in insertion order.
func (s *Store) Documents() []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]document.Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Clone()
	}
	return out
}

// Document returns a copy of the document with the given id.
func (s *Store) Document(id string) (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return document.Document{}, false
	}
	return s.docs[i].Clone(), true
}

// Focused returns the currently focused document, if any.
func (s *Store) Focused() (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session.FocusedID == "" {
		return document.Document{}, false
	}
	i := s.indexLocked(s.session.FocusedID)
	if i < 0 {
		return document.Document{}, false
	}
	return s.docs[i].Clone(), true
}

// --- Document mutations ---

// AddDocument appends doc. It fails with ErrDuplicateID if the id is taken.
func (s *Store) AddDocument(doc document.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	if doc.Status != "" && !doc.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDocument, doc.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(doc.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, doc.ID)
	}

	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Status == "" {
		doc.Status = document.StatusCompleted
	}

	s.docs = append(s.docs, doc.Clone())
	s.persistLocked()
	return nil
}

// Patch lists the fields UpdateDocument changes. Nil fields are left alone.
type Patch struct {
	Title             *string
	Text              *string
	Status            *document.Status
	GeneratedDocument *document.GeneratedDocument
	// RemoveGeneratedDocument detaches the generated document.
	// It takes precedence over GeneratedDocument.
	RemoveGeneratedDocument bool
}

// Validate rejects patches that carry an unknown status.
func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDocument, *p.Status)
	}
	return nil
}

// UpdateDocument merges p into the document with the given id and bumps
// UpdatedAt. A missing id is a no-op reported as updated == false.
func (s *Store) UpdateDocument(id string, p Patch) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}

	return s.mutate(id, func(d *document.Document) {
		if p.Title != nil {
			d.Title = *p.Title
		}
		if p.Text != nil {
			d.Text = *p.Text
		}
		if p.Status != nil {
			d.Status = *p.Status
		}
		switch {
		case p.RemoveGeneratedDocument:
			d.GeneratedDocument = nil
		case p.GeneratedDocument != nil:
			d.GeneratedDocument = p.GeneratedDocument.Clone()
		}
	}), nil
}

// DeleteDocument removes the document. Deleting the focused document clears
// focus. Returns false if the id was not found.
func (s *Store) DeleteDocument(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.docs = append(s.docs[:i:i], s.docs[i+1:]...)
	if s.session.FocusedID == id {
		s.session.FocusedID = ""
	}
	s.persistLocked()
	return true
}

// ClearAll removes every document and clears focus.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = nil
	s.session.FocusedID = ""
	s.persistLocked()
}

// mutate applies fn to the document with the given id, stamps UpdatedAt and
// persists. It reports whether the document existed.
func (s *Store) mutate(id string, fn func(d *document.Document)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		s.logger.Debug("mutation on missing document ignored", zap.String("doc_id", id))
		return false
	}

	d := &s.docs[i]
	fn(d)
	d.UpdatedAt = s.stampAfter(d.UpdatedAt)
	s.persistLocked()
	return true
}

// stampAfter returns the current time, forced strictly after prev.
func (s *Store) stampAfter(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (s *Store) indexLocked(id string) int {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return i
		}
	}
	return -1
}
