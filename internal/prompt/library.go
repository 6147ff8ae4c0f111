package prompt

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

var (
	// ErrInvalidName is returned for document names that are not plain .md filenames.
	ErrInvalidName = errors.New("invalid prompt document name")
	// ErrNotFound is returned when no document with the name exists.
	ErrNotFound = errors.New("prompt document not found")
)

// ValidateName accepts plain filenames ending in ".md". Traversal sequences
// and path separators are rejected.
func ValidateName(name string) error {
	switch {
	case name == "", !strings.HasSuffix(name, ".md"):
		return fmt.Errorf("%w: %q must be a .md file", ErrInvalidName, name)
	case strings.Contains(name, ".."), strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Library serves static prompt documents. Files in the override directory
// shadow the embedded defaults of the same name.
type Library struct {
	dir string
}

// NewLibrary creates a Library. An empty dir serves embedded defaults only.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Load returns the named document.
func (l *Library) Load(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
	}

	data, err := defaultsFS.ReadFile("defaults/" + name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("reading embedded %s: %w", name, err)
	}
	return string(data), nil
}

// Names lists every available document, defaults and overrides merged.
func (l *Library) Names() ([]string, error) {
	seen := map[string]bool{}

	entries, err := fs.ReadDir(defaultsFS, "defaults")
	if err != nil {
		return nil, fmt.Errorf("listing embedded prompts: %w", err)
	}
	for _, e := range entries {
		seen[e.Name()] = true
	}

	if l.dir != "" {
		entries, err := os.ReadDir(l.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("listing prompts dir: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && ValidateName(e.Name()) == nil {
				seen[e.Name()] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
