package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/document"
)

// Upload is one file submitted to a design workspace.
type Upload struct {
	Name     string
	Data     []byte
	MimeType string
}

// Rejection names an upload that failed validation.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// UploadResult reports a batch upload. Files are validated independently:
// valid files are stored even when others in the batch are rejected.
type UploadResult struct {
	Accepted []document.ImageRef      `json:"accepted"`
	Rejected []Rejection              `json:"rejected"`
	Storage  document.StorageEstimate `json:"storage"`
}

// UploadImages encodes and stores each upload in the document's workspace.
func (s *Service) UploadImages(docID string, uploads []Upload) (UploadResult, error) {
	doc, err := s.resolve(docID)
	if err != nil {
		return UploadResult{}, err
	}

	res := UploadResult{Accepted: []document.ImageRef{}, Rejected: []Rejection{}}
	for _, up := range uploads {
		ref, err := document.EncodeImage(up.Name, up.Data, up.MimeType)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Name: up.Name, Reason: reason(err)})
			continue
		}
		ok, err := s.store.AddImage(doc.ID, ref)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Name: up.Name, Reason: reason(err)})
			continue
		}
		if !ok {
			return res, fmt.Errorf("%s: %w", doc.ID, ErrNoDocument)
		}
		res.Accepted = append(res.Accepted, ref)
	}

	res.Storage = document.EstimateStorage(s.store.WorkspaceImages(doc.ID))
	if !res.Storage.HasSpace {
		s.logger.Warn("uploaded images near storage limit",
			zap.String("doc_id", doc.ID),
			zap.String("size", res.Storage.Formatted),
		)
	}
	return res, nil
}

func reason(err error) string {
	var ve *document.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
