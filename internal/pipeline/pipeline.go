// Package pipeline runs the asynchronous flows that submit a request to an
// external service and write the result back into the store by document id.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/ingest"
	"github.com/kalambet/voicepad/internal/prompt"
	"github.com/kalambet/voicepad/internal/proxy"
	"github.com/kalambet/voicepad/internal/store"
	"github.com/kalambet/voicepad/internal/task"
)

// Task kinds. At most one task of each kind is live per document.
const (
	KindTranscribe       task.Kind = "transcribe"
	KindGenerateDocument task.Kind = "generate-document"
	KindDesignPrompt     task.Kind = "design-prompt"
	KindDesignImages     task.Kind = "design-images"
)

// ReferenceImageHint follows the reference images in a design prompt request.
const ReferenceImageHint = "Use these reference images as inspiration for the design style, color palette, and layout structure."

var (
	ErrNoDocument    = errors.New("document not found")
	ErrNotConfigured = errors.New("service not configured")
	ErrNoPrompt      = errors.New("no design prompt")
)

// Service wires the store to the generation collaborators.
type Service struct {
	store       *store.Store
	tasks       *task.Registry
	assembler   *prompt.Assembler
	text        proxy.TextGenerator
	images      proxy.ImageGenerator
	transcriber proxy.Transcriber
	logger      *zap.Logger
	now         func() time.Time
}

// Deps are the collaborators of a Service. Text, Images and Transcriber may
// be nil; the flows that need them then fail with ErrNotConfigured.
type Deps struct {
	Store       *store.Store
	Tasks       *task.Registry
	Assembler   *prompt.Assembler
	Text        proxy.TextGenerator
	Images      proxy.ImageGenerator
	Transcriber proxy.Transcriber
	Logger      *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// New creates a Service.
func New(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		tasks:       d.Tasks,
		assembler:   d.Assembler,
		text:        d.Text,
		images:      d.Images,
		transcriber: d.Transcriber,
		logger:      d.Logger,
		now:         d.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tasks == nil {
		s.tasks = task.NewRegistry(0, s.logger)
	}
	s.tasks.Observe(s.syncSessionFlags)
	return s
}

// syncSessionFlags mirrors live task counts into the session's busy flags,
// so a flag drops only when no task of its kind is left.
func (s *Service) syncSessionFlags(kind task.Kind, live int) {
	switch kind {
	case KindTranscribe:
		s.store.SetProcessing(live > 0)
	case KindDesignPrompt:
		s.store.SetGeneratingPrompt(live > 0)
	case KindDesignImages:
		s.store.SetGeneratingImages(live > 0)
	}
}

// Store returns the underlying document store.
func (s *Service) Store() *store.Store { return s.store }

// Tasks returns the task registry.
func (s *Service) Tasks() *task.Registry { return s.tasks }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// Wait blocks until every started task has returned.
func (s *Service) Wait() { s.tasks.Wait() }

// Shutdown cancels all live tasks and waits for them.
func (s *Service) Shutdown() {
	s.tasks.CancelAll()
	s.tasks.Wait()
}

// SetFocused moves focus to id and cancels the tasks of the document that
// lost focus. Unknown ids are ignored.
func (s *Service) SetFocused(id string) {
	prev := s.store.SetFocused(id)
	if prev != "" && prev != s.store.FocusedID() {
		s.tasks.Cancel(prev)
	}
}

// DeleteDocument cancels the document's tasks and removes it.
func (s *Service) DeleteDocument(id string) bool {
	s.tasks.Cancel(id)
	return s.store.DeleteDocument(id)
}

// ClearAll cancels every task and removes every document.
func (s *Service) ClearAll() {
	s.tasks.CancelAll()
	s.store.ClearAll()
}

// ImportFile turns an imported file into a new completed document.
func (s *Service) ImportFile(name string, data []byte) (document.Document, error) {
	ex, err := ingest.Extract(name, data)
	if err != nil {
		return document.Document{}, err
	}
	doc := document.New(ex.Title, ex.Text, document.StatusCompleted, s.now())
	if err := s.store.AddDocument(doc); err != nil {
		return document.Document{}, err
	}
	s.logger.Info("imported document",
		zap.String("doc_id", doc.ID),
		zap.String("format", ex.Format),
		zap.Int("bytes", len(data)),
	)
	return doc, nil
}

// Transcribe submits audio for transcription. The new completed document is
// added and focused only once the transcript arrives; while any
// transcription is live the session's processing flag is set.
func (s *Service) Transcribe(ctx context.Context, filename string, audio []byte) (*task.Task, error) {
	if s.transcriber == nil {
		return nil, fmt.Errorf("transcription: %w", ErrNotConfigured)
	}
	if len(audio) == 0 {
		return nil, &proxy.ServiceError{Status: http.StatusBadRequest, Message: "No audio file provided"}
	}

	id := document.NewID("transcript")
	s.store.ClearError()

	return s.tasks.Start(ctx, id, KindTranscribe, func(ctx context.Context, commit task.Commit) error {
		text, err := s.transcriber.Transcribe(ctx, filename, bytes.NewReader(audio))
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("transcription returned no text: %w", proxy.ErrEmptyResponse)
		}
		if err != nil {
			return s.fail(commit, id, err)
		}

		now := s.now()
		doc := document.New(recordingTitle(now), strings.TrimSpace(text), document.StatusCompleted, now)
		doc.ID = id

		var addErr error
		commit(func() {
			if addErr = s.store.AddDocument(doc); addErr == nil {
				s.store.SetFocused(id)
			}
		})
		return addErr
	}), nil
}

func recordingTitle(t time.Time) string {
	return "Recording " + t.Format("Jan 2, 2006 3:04 PM")
}

// BuildPrompt assembles the prompt of the given kind for a document using
// the session's selected fragments. An empty docID means the focused document.
func (s *Service) BuildPrompt(ctx context.Context, kind prompt.Kind, docID string) (string, []string, error) {
	doc, err := s.resolve(docID)
	if err != nil {
		return "", nil, err
	}
	selected := s.store.Session().SelectedFragments
	return s.assembler.Build(ctx, s.input(kind, doc, selected)), selected, nil
}

func (s *Service) input(kind prompt.Kind, doc document.Document, selected []string) prompt.Input {
	return prompt.Input{
		Kind:              kind,
		Selected:          selected,
		Transcript:        doc.Text,
		GeneratedDocument: s.generatedContent,
		ImageNames:        doc.DesignWorkspace.ImageNames(),
	}
}

// generatedContent resolves a "prd-<id>" fragment, falling back to the
// document's own text when it has no generated document yet.
func (s *Service) generatedContent(docID string) (string, bool) {
	d, ok := s.store.Document(docID)
	if !ok {
		return "", false
	}
	if d.GeneratedDocument != nil && d.GeneratedDocument.Content != "" {
		return d.GeneratedDocument.Content, true
	}
	return d.Text, d.Text != ""
}

func (s *Service) resolve(docID string) (document.Document, error) {
	if docID == "" {
		doc, ok := s.store.Focused()
		if !ok {
			return document.Document{}, fmt.Errorf("no focused document: %w", ErrNoDocument)
		}
		return doc, nil
	}
	doc, ok := s.store.Document(docID)
	if !ok {
		return document.Document{}, fmt.Errorf("%s: %w", docID, ErrNoDocument)
	}
	return doc, nil
}

// GenerateDocument assembles a PRD prompt and stores the generated text as
// the document's generated document.
func (s *Service) GenerateDocument(ctx context.Context, docID string) (*task.Task, error) {
	if s.text == nil {
		return nil, fmt.Errorf("text generation: %w", ErrNotConfigured)
	}
	doc, err := s.resolve(docID)
	if err != nil {
		return nil, err
	}
	selected := s.store.Session().SelectedFragments
	s.store.ClearError()

	return s.tasks.Start(ctx, doc.ID, KindGenerateDocument, func(ctx context.Context, commit task.Commit) error {
		p := s.assembler.Build(ctx, s.input(prompt.KindPRD, doc, selected))
		out, err := s.text.Generate(ctx, proxy.TextRequest{Prompt: p})
		if err != nil {
			return s.fail(commit, doc.ID, err)
		}

		gen := &document.GeneratedDocument{
			Content:     out,
			GeneratedAt: s.now(),
			ContextUsed: selected,
		}
		var updErr error
		commit(func() {
			_, updErr = s.store.UpdateDocument(doc.ID, store.Patch{GeneratedDocument: gen})
		})
		return updErr
	}), nil
}

// GenerateDesignPrompt assembles a design prompt, sends it with the uploaded
// reference images and stores the result as the workspace's generated prompt.
func (s *Service) GenerateDesignPrompt(ctx context.Context, docID string) (*task.Task, error) {
	if s.text == nil {
		return nil, fmt.Errorf("text generation: %w", ErrNotConfigured)
	}
	doc, err := s.resolve(docID)
	if err != nil {
		return nil, err
	}
	selected := s.store.Session().SelectedFragments
	s.store.ClearError()

	return s.tasks.Start(ctx, doc.ID, KindDesignPrompt, func(ctx context.Context, commit task.Commit) error {
		req := proxy.TextRequest{Prompt: s.assembler.Build(ctx, s.input(prompt.KindDesign, doc, selected))}
		for _, ref := range s.store.WorkspaceImages(doc.ID) {
			data, mimeType, err := document.DecodeImage(ref)
			if err != nil {
				s.logger.Warn("skipping undecodable reference image",
					zap.String("doc_id", doc.ID),
					zap.String("image_id", ref.ID),
					zap.Error(err),
				)
				continue
			}
			req.Images = append(req.Images, proxy.InlineImage{Data: data, MimeType: mimeType})
		}
		if len(req.Images) > 0 {
			req.ImageHint = ReferenceImageHint
		}

		out, err := s.text.Generate(ctx, req)
		if err != nil {
			return s.fail(commit, doc.ID, err)
		}
		commit(func() { s.store.SetGeneratedPrompt(doc.ID, &out) })
		return nil
	}), nil
}

// GenerateImages requests count design images (clamped to 1..4) for the
// document. An empty prompt uses the workspace's generated prompt. Each
// returned URL is appended as a generated image and the generation count
// is incremented once per request.
func (s *Service) GenerateImages(ctx context.Context, docID, designPrompt string, count int) (*task.Task, error) {
	if s.images == nil {
		return nil, fmt.Errorf("image generation: %w", ErrNotConfigured)
	}
	doc, err := s.resolve(docID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(designPrompt) == "" && doc.DesignWorkspace != nil && doc.DesignWorkspace.GeneratedPrompt != nil {
		designPrompt = *doc.DesignWorkspace.GeneratedPrompt
	}
	if strings.TrimSpace(designPrompt) == "" {
		return nil, fmt.Errorf("%s: %w", doc.ID, ErrNoPrompt)
	}
	count = min(max(count, 1), proxy.MaxImagesPerRequest)

	var refs []string
	for _, ref := range s.store.WorkspaceImages(doc.ID) {
		refs = append(refs, ref.EncodedContent)
	}
	s.store.ClearError()

	return s.tasks.Start(ctx, doc.ID, KindDesignImages, func(ctx context.Context, commit task.Commit) error {
		urls, err := s.images.GenerateImages(ctx, proxy.ImageRequest{
			Prompt:          designPrompt + proxy.DesignStyleSuffix,
			Count:           count,
			ReferenceImages: refs,
		})
		if err != nil {
			return s.fail(commit, doc.ID, err)
		}

		commit(func() {
			current, ok := s.store.Document(doc.ID)
			if !ok {
				return
			}
			n := 1
			if current.DesignWorkspace != nil {
				n = current.DesignWorkspace.GenerationCount + 1
			}
			now := s.now()
			for _, u := range urls {
				s.store.AddGeneratedImage(doc.ID, document.GeneratedImage{
					ID:              document.NewID("generated"),
					URL:             u,
					Prompt:          designPrompt,
					CreatedAt:       now,
					GenerationCount: n,
				})
			}
			s.store.SetGenerationCount(doc.ID, n)
		})
		return nil
	}), nil
}

// fail classifies err and surfaces its message through the session error
// field, unless the task has been cancelled.
func (s *Service) fail(commit task.Commit, docID string, err error) error {
	if errors.Is(err, context.Canceled) {
		return task.ErrCancelled
	}
	se := proxy.Classify(err)
	commit(func() { s.store.SetError(se.Message) })
	s.logger.Warn("generation failed",
		zap.String("doc_id", docID),
		zap.Int("status", se.Status),
		zap.String("class", se.Class()),
		zap.Error(err),
	)
	return se
}
