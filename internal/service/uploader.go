package service

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/intake"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/remote"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stage is a step of the upload pipeline
type Stage int

const (
	StageReceived Stage = iota
	StageTypeChecked
	StageSizeChecked
	StageDurationChecked
	StageRemoteStored
	StagePersisted
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageTypeChecked:
		return "type_checked"
	case StageSizeChecked:
		return "size_checked"
	case StageDurationChecked:
		return "duration_checked"
	case StageRemoteStored:
		return "remote_stored"
	case StagePersisted:
		return "persisted"
	case StageDone:
		return "done"
	default:
		return "failed"
	}
}

// UploadRequest is one incoming video
type UploadRequest struct {
	File         io.Reader
	Filename     string
	ContentType  string
	DeclaredSize int64 // -1 when unknown
	DeviceID     string
	Title        string
}

// Uploader drives an upload from receipt to a persisted record. Every
// exit path removes the temp file, and a record is only written after the
// remote store accepted the video.
type Uploader struct {
	intake *intake.Validator
	prober Prober
	remote remote.Store
	videos VideoStore
	events events.Publisher
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewUploader wires the pipeline's collaborators
func NewUploader(
	validator *intake.Validator,
	prober Prober,
	store remote.Store,
	videos VideoStore,
	pub events.Publisher,
	log logrus.FieldLogger,
) *Uploader {
	return &Uploader{
		intake: validator,
		prober: prober,
		remote: store,
		videos: videos,
		events: pub,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// upload tracks the state of a single run
type upload struct {
	stage Stage
	log   logrus.FieldLogger
	span  trace.Span
}

func (up *upload) advance(s Stage) {
	up.stage = s
	up.span.AddEvent(s.String())
	up.log.WithField("stage", s.String()).Debug("upload advanced")
}

// fail records the terminal state and returns err unchanged.
func (up *upload) fail(err error) error {
	up.log.WithFields(logrus.Fields{
		"stage":  up.stage.String(),
		"reason": apperr.CodeOf(err),
	}).WithError(err).Warn("upload failed")
	up.stage = StageFailed
	up.span.RecordError(err)
	return err
}

// Spooled is an upload that passed the type and size checks and sits in a
// temp file. It must be handed to Complete or Abandon.
type Spooled struct {
	file *intake.File
	up   *upload
}

// Size is the number of bytes received.
func (s *Spooled) Size() int64 {
	return s.file.Size
}

// Upload runs the whole pipeline for a request whose fields are all known
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (*models.Video, error) {
	if req.File == nil {
		return nil, u.begin(ctx, req.Filename).fail(missingFile())
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return nil, u.begin(ctx, req.Filename).fail(missingDevice())
	}

	spooled, err := u.Receive(ctx, req.File, req.Filename, req.ContentType, req.DeclaredSize)
	if err != nil {
		return nil, err
	}
	return u.Complete(ctx, spooled, req.DeviceID, req.Title)
}

func missingFile() error {
	return apperr.Validation(CodeMissingFile, "No se ha proporcionado ningún archivo de video.")
}

func missingDevice() error {
	return apperr.Validation(CodeMissingDevice, "El ID del dispositivo es obligatorio.")
}

func (u *Uploader) begin(ctx context.Context, filename string) *upload {
	return &upload{
		stage: StageReceived,
		log:   u.log.WithField("file_name", filename),
		span:  trace.SpanFromContext(ctx),
	}
}

// Receive checks the declared type and size, then spools r to disk. A
// failure leaves no temp file behind.
func (u *Uploader) Receive(ctx context.Context, r io.Reader, filename, contentType string, declaredSize int64) (*Spooled, error) {
	ctx, span := tracer.Start(ctx, "upload.receive",
		trace.WithAttributes(
			attribute.String("file_name", filename),
			attribute.String("content_type", contentType),
		),
	)
	defer span.End()

	up := u.begin(ctx, filename)
	if r == nil {
		return nil, up.fail(missingFile())
	}

	if err := u.intake.CheckType(contentType); err != nil {
		return nil, up.fail(err)
	}
	up.advance(StageTypeChecked)

	if err := u.intake.CheckDeclaredSize(declaredSize); err != nil {
		return nil, up.fail(err)
	}
	file, err := u.intake.Spool(ctx, r, filename, contentType)
	if err != nil {
		return nil, up.fail(err)
	}
	up.log = up.log.WithField("size", file.Size)
	up.advance(StageSizeChecked)

	return &Spooled{file: file, up: up}, nil
}

// Abandon discards a spooled upload that will not be completed
func (u *Uploader) Abandon(s *Spooled) {
	if s != nil {
		u.intake.Discard(s.file.Path)
	}
}

// Complete probes the spooled file, stores it remotely and records it. The
// temp file is removed on every path.
func (u *Uploader) Complete(ctx context.Context, s *Spooled, deviceID, title string) (*models.Video, error) {
	defer u.intake.Discard(s.file.Path)

	ctx, span := tracer.Start(ctx, "upload.complete",
		trace.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.Int64("size_bytes", s.file.Size),
		),
	)
	defer span.End()

	up := s.up
	up.span = span
	up.log = up.log.WithField("device_id", deviceID)

	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, up.fail(missingDevice())
	}
	if tooLong(deviceID, MaxDeviceIDLength) {
		return nil, up.fail(deviceTooLong())
	}
	title = strings.TrimSpace(title)
	if tooLong(title, MaxTitleLength) {
		return nil, up.fail(apperr.Validation(CodeFieldTooLong,
			"El título no puede superar los 255 caracteres."))
	}

	probed, err := u.prober.Probe(ctx, s.file.Path)
	if err != nil {
		return nil, up.fail(apperr.Wrap(apperr.KindInternal, CodeProbe,
			"Error al procesar el video. Por favor, inténtalo de nuevo.", err))
	}
	if err := u.intake.CheckDuration(probed.Duration); err != nil {
		return nil, up.fail(err)
	}
	up.advance(StageDurationChecked)

	asset, err := u.remote.Upload(ctx, s.file.Path)
	if err != nil {
		return nil, up.fail(apperr.Wrap(apperr.KindRemoteStore, CodeRemoteStore,
			"Error al subir el video. Por favor, inténtalo de nuevo.", err))
	}
	up.log = up.log.WithField("remote_id", asset.RemoteID)
	up.advance(StageRemoteStored)

	now := u.now()
	video := &models.Video{
		ID:           uuid.New().String(),
		Title:        title,
		PlaybackURL:  asset.PlaybackURL,
		RemoteID:     asset.RemoteID,
		ThumbnailURL: asset.ThumbnailURL,
		Metadata: models.Metadata{
			Duration: probed.Duration,
			Size:     s.file.Size,
			Width:    pick(asset.Width, probed.Width),
			Height:   pick(asset.Height, probed.Height),
		},
		DeviceID:  deviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := u.videos.CreateVideo(ctx, video); err != nil {
		u.compensate(ctx, up, asset.RemoteID)
		return nil, up.fail(persistence("Error al guardar el video. Por favor, inténtalo de nuevo.", err))
	}
	up.log = up.log.WithField("video_id", video.ID)
	up.advance(StagePersisted)

	publish(ctx, u.events, up.log, events.TypeVideoUploaded, video.ID, events.VideoPayload{
		ID:       video.ID,
		DeviceID: video.DeviceID,
		RemoteID: video.RemoteID,
		Title:    video.Title,
		Duration: video.Metadata.Duration,
		Size:     video.Metadata.Size,
	})

	up.advance(StageDone)
	up.log.WithField("duration", probed.Duration).Info("video uploaded")
	return video, nil
}

// compensate deletes the remote asset of an upload that could not be
// recorded. It is attempted once; a failure leaves an orphan and is logged.
func (u *Uploader) compensate(ctx context.Context, up *upload, remoteID string) {
	ctx = context.WithoutCancel(ctx)
	if err := u.remote.Delete(ctx, remoteID); err != nil {
		up.log.WithError(err).Error("failed to delete orphaned remote asset")
	}
}

func pick(primary, fallback int) int {
	if primary > 0 {
		return primary
	}
	return fallback
}
