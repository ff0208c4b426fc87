// Package service holds the upload pipeline and the feed, like and comment
// operations. Every failure it returns is an *apperr.Error.
package service

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/probe"
	"github.com/maneesh/vidfeed/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vidfeed-service")

// Failure codes
const (
	CodeMissingFile     = "missing-file"
	CodeMissingDevice   = "missing-device"
	CodeMissingFields   = "missing-fields"
	CodeProbe           = "probe-error"
	CodeRemoteStore     = "remote-store-error"
	CodePersist         = "persist-error"
	CodeVideoNotFound   = "video-not-found"
	CodeNotOwner        = "not-owner"
	CodeAlreadyLiked    = "already-liked"
	CodeLikeNotFound    = "like-not-found"
	CodeInvalidComment  = "invalid-comment"
	CodeCommentNotFound = "comment-not-found"
	CodeFieldTooLong    = "field-too-long"
)

// Column widths of the persisted identifiers, in characters
const (
	MaxTitleLength    = 255
	MaxDeviceIDLength = 255
)

// Pagination defaults
const (
	DefaultVideoLimit   = 10
	DefaultCommentLimit = 20
	MaxLimit            = 100
)

// VideoStore persists video records
type VideoStore interface {
	CreateVideo(ctx context.Context, v *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListVideos(ctx context.Context, deviceID string, offset, limit int) ([]models.Video, int64, error)
	DeleteVideo(ctx context.Context, id string) error
}

// LikeStore persists likes; Add and Remove adjust like_count in the same unit of work
type LikeStore interface {
	LikeExists(ctx context.Context, videoID, deviceID string) (bool, error)
	AddLike(ctx context.Context, l *models.Like) error
	RemoveLike(ctx context.Context, videoID, deviceID string) error
	ListLikes(ctx context.Context, videoID string) ([]models.Like, error)
}

// CommentStore persists comments; Add adjusts comment_count in the same unit of work
type CommentStore interface {
	AddComment(ctx context.Context, c *models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListComments(ctx context.Context, videoID string, offset, limit int) ([]models.Comment, int64, error)
	DeleteComment(ctx context.Context, c *models.Comment, decrement bool) error
}

// VideoCache is a read-through cache of video records
type VideoCache interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	SetVideo(ctx context.Context, v *models.Video) error
	InvalidateVideo(ctx context.Context, id string) error
}

// Prober reads media properties from a local file
type Prober interface {
	Probe(ctx context.Context, path string) (probe.Result, error)
}

func tooLong(value string, max int) bool {
	return utf8.RuneCountInString(value) > max
}

func deviceTooLong() error {
	return apperr.Validation(CodeFieldTooLong, "El ID del dispositivo es demasiado largo.")
}

// normalizePage applies defaults to non-positive values and caps the limit.
func normalizePage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// persistence wraps an unexpected storage failure.
func persistence(message string, err error) error {
	return apperr.Wrap(apperr.KindPersistence, CodePersist, message, err)
}

func publish(ctx context.Context, pub events.Publisher, log logrus.FieldLogger, eventType, key string, payload interface{}) {
	if err := pub.Publish(ctx, eventType, key, payload); err != nil {
		log.WithError(err).WithField("event_type", eventType).Warn("failed to publish event")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
