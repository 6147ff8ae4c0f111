package document

import (
	"errors"
	"fmt"
)

var (
	// ErrImageTooLarge is returned when an upload exceeds MaxImageSize.
	ErrImageTooLarge = errors.New("image too large")
	// ErrUnsupportedType is returned for uploads that are not images.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrInvalidEncoding is returned when EncodedContent is not a base64 data URL.
	ErrInvalidEncoding = errors.New("invalid encoded content")
)

// ValidationError describes a rejected input. It wraps one of the package
// sentinels so callers can match with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
