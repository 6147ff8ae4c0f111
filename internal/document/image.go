package document

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MaxImageSize is the largest accepted upload, in bytes.
	MaxImageSize = 5 << 20
	// StorageSoftLimit is the estimated persisted size above which uploads
	// are likely to exhaust durable storage.
	StorageSoftLimit = 4 << 20
)

// EncodeImage validates an uploaded file and serializes it into an ImageRef.
// declaredType may be empty, in which case the type is sniffed from data.
// Oversized or non-image files are rejected whole with a *ValidationError.
func EncodeImage(name string, data []byte, declaredType string) (ImageRef, error) {
	if len(data) > MaxImageSize {
		return ImageRef{}, &ValidationError{
			Field: "size",
			Reason: fmt.Sprintf("file size %.2fMB exceeds maximum allowed size of %dMB",
				float64(len(data))/1024/1024, MaxImageSize>>20),
			Err: ErrImageTooLarge,
		}
	}

	mimeType := normalizeMIME(declaredType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMIME(mimetype.Detect(data).String())
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return ImageRef{}, &ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("file type %s is not supported, only image files are allowed", mimeType),
			Err:    ErrUnsupportedType,
		}
	}

	return ImageRef{
		ID:             NewID("img"),
		Name:           name,
		Size:           int64(len(data)),
		MimeType:       mimeType,
		EncodedContent: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		UploadedAt:     time.Now(),
	}, nil
}

// DecodeImage turns an ImageRef back into raw bytes and the MIME type
// embedded in its data URL.
func DecodeImage(ref ImageRef) ([]byte, string, error) {
	header, payload, ok := strings.Cut(ref.EncodedContent, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, "", &ValidationError{Field: "encodedContent", Reason: "not a base64 data URL", Err: ErrInvalidEncoding}
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if mimeType == "" {
		return nil, "", &ValidationError{Field: "encodedContent", Reason: "data URL has no MIME type", Err: ErrInvalidEncoding}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", &ValidationError{Field: "encodedContent", Reason: err.Error(), Err: ErrInvalidEncoding}
	}
	return data, mimeType, nil
}

// ValidImageRef reports whether ref has every field populated and a data URL payload.
func ValidImageRef(ref ImageRef) bool {
	return ref.ID != "" &&
		ref.Name != "" &&
		ref.MimeType != "" &&
		strings.HasPrefix(ref.EncodedContent, "data:")
}

// StorageEstimate summarizes how much durable storage a set of images needs.
type StorageEstimate struct {
	Bytes     int    `json:"bytes"`
	Formatted string `json:"formatted"`
	HasSpace  bool   `json:"hasSpace"`
}

// EstimateStorage sums the encoded size of images against StorageSoftLimit.
func EstimateStorage(images []ImageRef) StorageEstimate {
	total := 0
	for _, img := range images {
		total += len(img.EncodedContent)
	}
	return StorageEstimate{
		Bytes:     total,
		Formatted: FormatSize(int64(total)),
		HasSpace:  total < StorageSoftLimit,
	}
}

// FormatSize renders a byte count as a short human-readable string.
func FormatSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	v := float64(bytes)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	s := strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0")
	return s + " " + units[i]
}

func normalizeMIME(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(t)
	}
	return mt
}
