package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// Entry describes one stored key without its value.
type Entry struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}
