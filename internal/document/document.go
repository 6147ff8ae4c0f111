// Package document defines the persisted units of user work: transcripts,
// the derivative documents generated from them, and the per-document design
// workspace used by the image generation flow.
package document

import (
	"slices"
	"time"
)

// Status is the lifecycle marker of a Document. Transitions are not enforced.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Document is a persisted transcript record.
type Document struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Text              string             `json:"text"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Status            Status             `json:"status"`
	GeneratedDocument *GeneratedDocument `json:"generatedDocument,omitempty"`
	DesignWorkspace   *DesignWorkspace   `json:"designWorkspace,omitempty"`
}

// GeneratedDocument is a derivative document (PRD) produced from a prompt.
type GeneratedDocument struct {
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generatedAt"`
	ContextUsed []string  `json:"contextUsed"`
}

// DesignWorkspace holds the image generation state of one Document.
type DesignWorkspace struct {
	UploadedImages  []ImageRef       `json:"uploadedImages"`
	GeneratedPrompt *string          `json:"generatedPrompt"`
	GeneratedImages []GeneratedImage `json:"generatedImages"`
	GenerationCount int              `json:"generationCount"`
	LastModified    time.Time        `json:"lastModified"`
}

// ImageRef is an uploaded image serialized for persistence. EncodedContent
// is a data URL and carries its own MIME type.
type ImageRef struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	MimeType       string    `json:"mimeType"`
	EncodedContent string    `json:"encodedContent"`
	UploadedAt     time.Time `json:"uploadedAt"`
}

// GeneratedImage is one image returned by the image generation service.
type GeneratedImage struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Prompt          string    `json:"prompt"`
	CreatedAt       time.Time `json:"createdAt"`
	GenerationCount int       `json:"generationCount"`
}

// New creates a Document with a fresh id and both timestamps set to now.
func New(title, text string, status Status, now time.Time) Document {
	return Document{
		ID:        NewID("transcript"),
		Title:     title,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    status,
	}
}

// NewWorkspace returns an empty design workspace.
func NewWorkspace(now time.Time) *DesignWorkspace {
	return &DesignWorkspace{
		UploadedImages:  []ImageRef{},
		GeneratedImages: []GeneratedImage{},
		LastModified:    now,
	}
}

// Clone returns a deep copy of d. Callers of the store only ever see clones.
func (d Document) Clone() Document {
	out := d
	out.GeneratedDocument = d.GeneratedDocument.Clone()
	out.DesignWorkspace = d.DesignWorkspace.Clone()
	return out
}

// Clone returns a deep copy of g.
func (g *GeneratedDocument) Clone() *GeneratedDocument {
	if g == nil {
		return nil
	}
	out := *g
	out.ContextUsed = slices.Clone(g.ContextUsed)
	return &out
}

// Clone returns a deep copy of w.
func (w *DesignWorkspace) Clone() *DesignWorkspace {
	if w == nil {
		return nil
	}
	out := *w
	out.UploadedImages = slices.Clone(w.UploadedImages)
	out.GeneratedImages = slices.Clone(w.GeneratedImages)
	if w.GeneratedPrompt != nil {
		p := *w.GeneratedPrompt
		out.GeneratedPrompt = &p
	}
	return out.normalize()
}

func (w DesignWorkspace) normalize() *DesignWorkspace {
	if w.UploadedImages == nil {
		w.UploadedImages = []ImageRef{}
	}
	if w.GeneratedImages == nil {
		w.GeneratedImages = []GeneratedImage{}
	}
	return &w
}

// ImageNames returns the filenames of the uploaded images, in upload order.
func (w *DesignWorkspace) ImageNames() []string {
	if w == nil {
		return nil
	}
	names := make([]string, 0, len(w.UploadedImages))
	for _, img := range w.UploadedImages {
		names = append(names, img.Name)
	}
	return names
}
