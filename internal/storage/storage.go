// Package storage persists videos, likes and comments, and caches video
// records.
package storage

import (
	"errors"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vidfeed-storage")

var (
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate means a unique key was violated.
	ErrDuplicate = errors.New("storage: duplicate")
)
