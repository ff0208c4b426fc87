package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LikeService records one like per device per video
type LikeService struct {
	likes  LikeStore
	videos *VideoService
	events events.Publisher
	log    logrus.FieldLogger
}

// NewLikeService creates the like service
func NewLikeService(likes LikeStore, videos *VideoService, pub events.Publisher, log logrus.FieldLogger) *LikeService {
	return &LikeService{likes: likes, videos: videos, events: pub, log: log}
}

func alreadyLiked() error {
	return apperr.Duplicate(CodeAlreadyLiked, "Ya has dado like a este video")
}

func requireIDs(videoID, deviceID string) error {
	if strings.TrimSpace(videoID) == "" || strings.TrimSpace(deviceID) == "" {
		return apperr.Validation(CodeMissingFields, "El ID del video y el ID del dispositivo son obligatorios.")
	}
	if tooLong(deviceID, MaxDeviceIDLength) {
		return deviceTooLong()
	}
	return nil
}

// Give likes a video. The existence check is advisory; the store's unique
// key decides concurrent duplicates.
func (s *LikeService) Give(ctx context.Context, videoID, deviceID string) (*models.Like, error) {
	ctx, span := tracer.Start(ctx, "likes.give",
		trace.WithAttributes(
			attribute.String("video_id", videoID),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	if err := requireIDs(videoID, deviceID); err != nil {
		return nil, err
	}
	if _, err := s.videos.Get(ctx, videoID); err != nil {
		return nil, err
	}

	exists, err := s.likes.LikeExists(ctx, videoID, deviceID)
	if err != nil {
		span.RecordError(err)
		return nil, persistence("Error al registrar el like.", err)
	}
	if exists {
		return nil, alreadyLiked()
	}

	like := &models.Like{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		DeviceID:  deviceID,
		CreatedAt: time.Now().UTC(),
	}
	switch err := s.likes.AddLike(ctx, like); {
	case errors.Is(err, storage.ErrDuplicate):
		return nil, alreadyLiked()
	case isNotFound(err):
		return nil, videoNotFound()
	case err != nil:
		span.RecordError(err)
		return nil, persistence("Error al registrar el like.", err)
	}

	s.videos.Invalidate(ctx, videoID)
	publish(ctx, s.events, s.log, events.TypeLikeAdded, videoID, events.LikePayload{VideoID: videoID, DeviceID: deviceID})
	return like, nil
}

// Remove withdraws a like
func (s *LikeService) Remove(ctx context.Context, videoID, deviceID string) error {
	ctx, span := tracer.Start(ctx, "likes.remove",
		trace.WithAttributes(
			attribute.String("video_id", videoID),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	if err := requireIDs(videoID, deviceID); err != nil {
		return err
	}

	err := s.likes.RemoveLike(ctx, videoID, deviceID)
	if isNotFound(err) {
		return apperr.NotFound(CodeLikeNotFound, "No has dado like a este video")
	} else if err != nil {
		span.RecordError(err)
		return persistence("Error al quitar el like.", err)
	}

	s.videos.Invalidate(ctx, videoID)
	publish(ctx, s.events, s.log, events.TypeLikeRemoved, videoID, events.LikePayload{VideoID: videoID, DeviceID: deviceID})
	return nil
}

// Has reports whether deviceID liked videoID
func (s *LikeService) Has(ctx context.Context, videoID, deviceID string) (bool, error) {
	if err := requireIDs(videoID, deviceID); err != nil {
		return false, err
	}
	ok, err := s.likes.LikeExists(ctx, videoID, deviceID)
	if err != nil {
		return false, persistence("Error al verificar el like.", err)
	}
	return ok, nil
}

// ListByVideo returns all likes of a video, newest first
func (s *LikeService) ListByVideo(ctx context.Context, videoID string) ([]models.Like, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, apperr.Validation(CodeMissingFields, "El ID del video es obligatorio.")
	}
	likes, err := s.likes.ListLikes(ctx, videoID)
	if err != nil {
		return nil, persistence("Error al obtener los likes.", err)
	}
	return likes, nil
}
