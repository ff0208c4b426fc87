package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxCommentLength is counted in characters after trimming
const MaxCommentLength = 500

// CommentService manages comments on videos
type CommentService struct {
	comments  CommentStore
	videos    *VideoService
	decrement bool
	events    events.Publisher
	log       logrus.FieldLogger
}

// NewCommentService creates the comment service. When decrementOnDelete is
// false, deleting a comment leaves the video's commentCount untouched.
func NewCommentService(comments CommentStore, videos *VideoService, decrementOnDelete bool, pub events.Publisher, log logrus.FieldLogger) *CommentService {
	return &CommentService{
		comments:  comments,
		videos:    videos,
		decrement: decrementOnDelete,
		events:    pub,
		log:       log,
	}
}

func commentNotFound() error {
	return apperr.NotFound(CodeCommentNotFound, "Comentario no encontrado")
}

// Create adds a comment and bumps the video's commentCount
func (s *CommentService) Create(ctx context.Context, videoID, deviceID, text string) (*models.Comment, error) {
	ctx, span := tracer.Start(ctx, "comments.create",
		trace.WithAttributes(
			attribute.String("video_id", videoID),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if strings.TrimSpace(videoID) == "" || strings.TrimSpace(deviceID) == "" || text == "" {
		return nil, apperr.Validation(CodeMissingFields,
			"El ID del video, el ID del dispositivo y el texto son obligatorios.")
	}
	if tooLong(deviceID, MaxDeviceIDLength) {
		return nil, deviceTooLong()
	}
	if n := utf8.RuneCountInString(text); n > MaxCommentLength {
		return nil, apperr.Validation(CodeInvalidComment, "El comentario debe tener entre 1 y 500 caracteres.")
	}
	if _, err := s.videos.Get(ctx, videoID); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		DeviceID:  deviceID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.comments.AddComment(ctx, comment); err != nil {
		span.RecordError(err)
		if isNotFound(err) {
			return nil, videoNotFound()
		}
		return nil, persistence("Error al crear el comentario.", err)
	}

	s.videos.Invalidate(ctx, videoID)
	publish(ctx, s.events, s.log, events.TypeCommentAdded, videoID, events.CommentPayload{
		ID:       comment.ID,
		VideoID:  videoID,
		DeviceID: deviceID,
	})
	return comment, nil
}

// ListByVideo returns a page of a video's comments, newest first
func (s *CommentService) ListByVideo(ctx context.Context, videoID string, page, limit int) (models.Page[models.Comment], error) {
	if strings.TrimSpace(videoID) == "" {
		return models.Page[models.Comment]{}, apperr.Validation(CodeMissingFields, "El ID del video es obligatorio.")
	}
	page, limit = normalizePage(page, limit, DefaultCommentLimit)

	comments, total, err := s.comments.ListComments(ctx, videoID, models.Offset(page, limit), limit)
	if err != nil {
		return models.Page[models.Comment]{}, persistence("Error al obtener los comentarios.", err)
	}
	return models.NewPage(comments, page, limit, total), nil
}

// Get returns one comment
func (s *CommentService) Get(ctx context.Context, id string) (*models.Comment, error) {
	c, err := s.comments.GetComment(ctx, id)
	if isNotFound(err) {
		return nil, commentNotFound()
	} else if err != nil {
		return nil, persistence("Error al obtener el comentario.", err)
	}
	return c, nil
}

// Delete removes a comment written by deviceID
func (s *CommentService) Delete(ctx context.Context, id, deviceID string) error {
	ctx, span := tracer.Start(ctx, "comments.delete",
		trace.WithAttributes(
			attribute.String("comment_id", id),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	if strings.TrimSpace(id) == "" || strings.TrimSpace(deviceID) == "" {
		return apperr.Validation(CodeMissingFields, "El ID del comentario y el ID del dispositivo son obligatorios.")
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.DeviceID != deviceID {
		return apperr.Ownership(CodeNotOwner, "No tienes permiso para eliminar este comentario")
	}

	if err := s.comments.DeleteComment(ctx, c, s.decrement); err != nil {
		span.RecordError(err)
		if isNotFound(err) {
			return commentNotFound()
		}
		return persistence("Error al eliminar el comentario.", err)
	}

	if s.decrement {
		s.videos.Invalidate(ctx, c.VideoID)
	}
	publish(ctx, s.events, s.log, events.TypeCommentDeleted, c.VideoID, events.CommentPayload{
		ID:       c.ID,
		VideoID:  c.VideoID,
		DeviceID: c.DeviceID,
	})
	return nil
}
