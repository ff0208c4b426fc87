package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/intake"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/service"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// formOverhead is allowed on top of the video size for the other fields
// and multipart framing.
const formOverhead = 1 << 20

const maxFieldSize = 4096

// VideoHandler serves /api/videos
type VideoHandler struct {
	uploader *service.Uploader
	videos   *service.VideoService
	maxBody  int64
	log      logrus.FieldLogger
}

// NewVideoHandler creates the video handler. maxVideoSize bounds the
// request body together with formOverhead.
func NewVideoHandler(uploader *service.Uploader, videos *service.VideoService, maxVideoSize int64, log logrus.FieldLogger) *VideoHandler {
	return &VideoHandler{
		uploader: uploader,
		videos:   videos,
		maxBody:  maxVideoSize + formOverhead,
		log:      log,
	}
}

// UploadResponse is returned for a created video
type UploadResponse struct {
	Message string        `json:"mensaje"`
	Video   *models.Video `json:"video"`
}

// readField reads a small form value. Values longer than maxFieldSize are
// rejected rather than cut.
func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldSize {
		return "", apperr.Validation(service.CodeFieldTooLong,
			fmt.Sprintf("El campo %s es demasiado largo.", part.FormName()))
	}
	return strings.TrimSpace(string(data)), nil
}

// oversize converts a body-limit error into the too-large failure.
func oversize(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.Wrap(apperr.KindValidation, intake.CodeTooLarge,
			"El archivo excede el tamaño máximo permitido.", err)
	}
	return err
}

// Upload handles POST /api/videos/subir. The multipart body is streamed
// once: the file part goes straight to the spool, and fields may arrive
// before or after it.
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_video",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, h.log, apperr.Wrap(apperr.KindValidation, service.CodeMissingFile,
			"No se ha proporcionado ningún archivo de video.", err))
		return
	}

	var (
		spooled  *service.Spooled
		deviceID string
		title    string
	)
	fail := func(err error) {
		h.uploader.Abandon(spooled)
		writeError(w, r, h.log, oversize(err))
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(apperr.Wrap(apperr.KindValidation, codeInvalidBody, "Formulario no válido.", err))
			return
		}

		switch part.FormName() {
		case "video", "file":
			if spooled != nil {
				break
			}
			spooled, err = h.uploader.Receive(ctx, part, part.FileName(), part.Header.Get("Content-Type"), -1)
		case "deviceId":
			deviceID, err = readField(part)
		case "title":
			title, err = readField(part)
		}
		part.Close()
		if err != nil {
			fail(err)
			return
		}
	}

	if spooled == nil {
		writeError(w, r, h.log, apperr.Validation(service.CodeMissingFile,
			"No se ha proporcionado ningún archivo de video."))
		return
	}

	span.SetAttributes(
		attribute.String("device_id", deviceID),
		attribute.Int64("size_bytes", spooled.Size()),
	)
	video, err := h.uploader.Complete(ctx, spooled, deviceID, title)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{Message: "Video subido con éxito", Video: video})
}

// List handles GET /api/videos
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.videos.List(r.Context(), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListByDevice handles GET /api/videos/dispositivo/{deviceId}
func (h *VideoHandler) ListByDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	page, err := h.videos.ListByDevice(r.Context(), deviceID, queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /api/videos/{id}
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	video, err := h.videos.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

type ownerRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

// Delete handles DELETE /api/videos/{id}
func (h *VideoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	req := ownerRequest{DeviceID: r.URL.Query().Get("deviceId")}
	if err := bind(r, &req, "El ID del dispositivo es obligatorio."); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if err := h.videos.Delete(r.Context(), mux.Vars(r)["id"], req.DeviceID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Video eliminado correctamente"})
}
