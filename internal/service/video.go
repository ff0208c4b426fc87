package service

import (
	"context"
	"strings"

	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/remote"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// VideoService serves the feed and owner-only deletion
type VideoService struct {
	store  VideoStore
	remote remote.Store
	signer remote.URLSigner
	cache  VideoCache
	events events.Publisher
	log    logrus.FieldLogger
}

// VideoOption customises a VideoService
type VideoOption func(*VideoService)

// WithCache enables read-through caching of single records.
func WithCache(c VideoCache) VideoOption {
	return func(s *VideoService) { s.cache = c }
}

// NewVideoService creates the feed service
func NewVideoService(store VideoStore, rs remote.Store, pub events.Publisher, log logrus.FieldLogger, opts ...VideoOption) *VideoService {
	s := &VideoService{store: store, remote: rs, events: pub, log: log}
	if signer, ok := rs.(remote.URLSigner); ok {
		s.signer = signer
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func videoNotFound() error {
	return apperr.NotFound(CodeVideoNotFound, "Video no encontrado")
}

// List returns a page of the global feed, newest first
func (s *VideoService) List(ctx context.Context, page, limit int) (models.Page[models.Video], error) {
	return s.list(ctx, "", page, limit)
}

// ListByDevice returns a page of one device's videos, newest first
func (s *VideoService) ListByDevice(ctx context.Context, deviceID string, page, limit int) (models.Page[models.Video], error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return models.Page[models.Video]{}, apperr.Validation(CodeMissingDevice, "El ID del dispositivo es obligatorio.")
	}
	return s.list(ctx, deviceID, page, limit)
}

func (s *VideoService) list(ctx context.Context, deviceID string, page, limit int) (models.Page[models.Video], error) {
	page, limit = normalizePage(page, limit, DefaultVideoLimit)
	ctx, span := tracer.Start(ctx, "videos.list",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	videos, total, err := s.store.ListVideos(ctx, deviceID, models.Offset(page, limit), limit)
	if err != nil {
		span.RecordError(err)
		return models.Page[models.Video]{}, persistence("Error al obtener videos.", err)
	}
	for i := range videos {
		s.sign(ctx, &videos[i])
	}
	return models.NewPage(videos, page, limit, total), nil
}

// Get returns one video, consulting the cache first when one is configured
func (s *VideoService) Get(ctx context.Context, id string) (*models.Video, error) {
	ctx, span := tracer.Start(ctx, "videos.get",
		trace.WithAttributes(attribute.String("video_id", id)),
	)
	defer span.End()

	if s.cache != nil {
		v, err := s.cache.GetVideo(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("video_id", id).Warn("cache lookup failed")
		} else if v != nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			s.sign(ctx, v)
			return v, nil
		}
	}

	v, err := s.store.GetVideo(ctx, id)
	if isNotFound(err) {
		return nil, videoNotFound()
	} else if err != nil {
		span.RecordError(err)
		return nil, persistence("Error al obtener el video.", err)
	}

	if s.cache != nil {
		if err := s.cache.SetVideo(ctx, v); err != nil {
			s.log.WithError(err).WithField("video_id", id).Warn("failed to populate cache")
		}
	}
	s.sign(ctx, v)
	return v, nil
}

// sign replaces an expiring playback URL with a fresh one. On failure the
// stored URL is kept.
func (s *VideoService) sign(ctx context.Context, v *models.Video) {
	if s.signer == nil || v.RemoteID == "" {
		return
	}
	u, err := s.signer.PlaybackURL(ctx, v.RemoteID)
	if err != nil {
		s.log.WithError(err).WithField("video_id", v.ID).Warn("failed to sign playback url")
		return
	}
	v.PlaybackURL = u
}

// Invalidate drops a cached record after its counters changed
func (s *VideoService) Invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateVideo(ctx, id); err != nil {
		s.log.WithError(err).WithField("video_id", id).Warn("failed to invalidate cache")
	}
}

// Delete removes a video owned by deviceID. The remote asset goes first;
// when that fails the record stays. If the record delete then fails the
// remote asset is already gone and the error says so.
func (s *VideoService) Delete(ctx context.Context, id, deviceID string) error {
	ctx, span := tracer.Start(ctx, "videos.delete",
		trace.WithAttributes(
			attribute.String("video_id", id),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()
	log := s.log.WithFields(logrus.Fields{"video_id": id, "device_id": deviceID})

	if strings.TrimSpace(deviceID) == "" {
		return apperr.Validation(CodeMissingDevice, "El ID del dispositivo es obligatorio.")
	}

	v, err := s.store.GetVideo(ctx, id)
	if isNotFound(err) {
		return videoNotFound()
	} else if err != nil {
		span.RecordError(err)
		return persistence("Error al obtener el video.", err)
	}
	if v.DeviceID != deviceID {
		return apperr.Ownership(CodeNotOwner, "No tienes permiso para eliminar este video.")
	}

	if err := s.remote.Delete(ctx, v.RemoteID); err != nil {
		span.RecordError(err)
		log.WithError(err).WithField("remote_id", v.RemoteID).Error("failed to delete remote asset")
		return apperr.Wrap(apperr.KindRemoteStore, CodeRemoteStore,
			"Error al eliminar el video. Por favor, inténtalo de nuevo.", err)
	}

	if err := s.store.DeleteVideo(ctx, id); err != nil {
		span.RecordError(err)
		log.WithError(err).WithField("remote_id", v.RemoteID).Error("remote asset deleted but record remains")
		if isNotFound(err) {
			return videoNotFound()
		}
		return persistence("Error al eliminar el video.", err)
	}

	s.Invalidate(ctx, id)
	publish(ctx, s.events, log, events.TypeVideoDeleted, id, events.VideoPayload{
		ID:       id,
		DeviceID: v.DeviceID,
		RemoteID: v.RemoteID,
	})
	log.Info("video deleted")
	return nil
}
