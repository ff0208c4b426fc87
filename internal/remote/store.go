// Package remote uploads videos to a hosting service and manages them there.
package remote

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vidfeed-remote")

// Asset describes a video held by the remote store
type Asset struct {
	RemoteID     string
	PlaybackURL  string
	ThumbnailURL string
	Width        int
	Height       int
	Duration     float64
	Size         int64
}

// Store is a remote video host. Calls are never retried.
type Store interface {
	Upload(ctx context.Context, path string) (*Asset, error)
	Delete(ctx context.Context, remoteID string) error
	Info(ctx context.Context, remoteID string) (*Asset, error)
}

// URLSigner is implemented by stores whose playback URLs expire. The
// stored URL is then only a hint and is re-signed whenever a record is read.
type URLSigner interface {
	PlaybackURL(ctx context.Context, remoteID string) (string, error)
}

// APIError is a non-2xx answer from the remote API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote store returned status %d: %s", e.StatusCode, e.Body)
}
