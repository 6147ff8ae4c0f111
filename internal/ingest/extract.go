// Package ingest turns imported files into document text.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// MaxImportSize is the largest file accepted for import.
const MaxImportSize = 10 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported import format")
	ErrTooLarge          = errors.New("import file too large")
	ErrEmpty             = errors.New("import file has no text")
)

// Extracted is the text content of one imported file.
type Extracted struct {
	Title  string
	Text   string
	Format string
}

// Extract reads plain text, Markdown or PDF content from data. The title is
// the filename without its extension.
func Extract(name string, data []byte) (Extracted, error) {
	if len(data) > MaxImportSize {
		return Extracted{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), MaxImportSize)
	}

	ext := strings.ToLower(filepath.Ext(name))
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	mt := mimetype.Detect(data)

	var (
		text   string
		format string
		err    error
	)
	switch {
	case ext == ".pdf" || mt.Is("application/pdf"):
		format = "pdf"
		text, err = extractPDF(data)
	case ext == ".md" || ext == ".markdown":
		format = "markdown"
		text, err = extractText(data)
	case ext == ".txt" || strings.HasPrefix(mt.String(), "text/"):
		format = "text"
		text, err = extractText(data)
	default:
		return Extracted{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, name, mt.String())
	}
	if err != nil {
		return Extracted{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Extracted{}, fmt.Errorf("%w: %s", ErrEmpty, name)
	}
	if title == "" {
		title = "Imported " + format
	}
	return Extracted{Title: title, Text: text, Format: format}, nil
}

func extractText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedFormat)
	}
	return string(data), nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf: %v", ErrUnsupportedFormat, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return string(out), nil
}
