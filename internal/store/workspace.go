package store

import (
	"fmt"
	"slices"

	"github.com/kalambet/voicepad/internal/document"
)

// mutateWorkspace applies fn to the design workspace of the document,
// creating the workspace with defaults on first write.
func (s *Store) mutateWorkspace(id string, fn func(w *document.DesignWorkspace)) bool {
	return s.mutate(id, func(d *document.Document) {
		now := s.now()
		if d.DesignWorkspace == nil {
			d.DesignWorkspace = document.NewWorkspace(now)
		}
		fn(d.DesignWorkspace)
		d.DesignWorkspace.LastModified = now
	})
}

// AddImage appends an uploaded image to the document's workspace. The ref
// must come from document.EncodeImage.
func (s *Store) AddImage(id string, ref document.ImageRef) (bool, error) {
	if !document.ValidImageRef(ref) {
		return false, fmt.Errorf("%w: incomplete image reference", ErrInvalidDocument)
	}
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.UploadedImages = append(w.UploadedImages, ref)
	}), nil
}

// RemoveImage removes the uploaded image with imageID. Reports whether the
// document existed.
func (s *Store) RemoveImage(id, imageID string) bool {
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.UploadedImages = slices.DeleteFunc(w.UploadedImages, func(img document.ImageRef) bool {
			return img.ID == imageID
		})
	})
}

func (s *Store) ClearImages(id string) bool {
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.UploadedImages = []document.ImageRef{}
	})
}

// SetGeneratedPrompt stores the design prompt; nil clears it.
func (s *Store) SetGeneratedPrompt(id string, prompt *string) bool {
	var p *string
	if prompt != nil {
		v := *prompt
		p = &v
	}
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.GeneratedPrompt = p
	})
}

func (s *Store) AddGeneratedImage(id string, img document.GeneratedImage) bool {
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.GeneratedImages = append(w.GeneratedImages, img)
	})
}

func (s *Store) ClearGeneratedImages(id string) bool {
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.GeneratedImages = []document.GeneratedImage{}
	})
}

func (s *Store) SetGenerationCount(id string, n int) bool {
	return s.mutateWorkspace(id, func(w *document.DesignWorkspace) {
		w.GenerationCount = n
	})
}

// WorkspaceImages returns the uploaded images of a document, or nil.
func (s *Store) WorkspaceImages(id string) []document.ImageRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 || s.docs[i].DesignWorkspace == nil {
		return nil
	}
	return slices.Clone(s.docs[i].DesignWorkspace.UploadedImages)
}
