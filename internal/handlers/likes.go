package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/service"
	"github.com/sirupsen/logrus"
)

const likeFieldsMessage = "El ID del video y el ID del dispositivo son obligatorios."

// LikeHandler serves /api/likes
type LikeHandler struct {
	likes *service.LikeService
	log   logrus.FieldLogger
}

// NewLikeHandler creates the like handler
func NewLikeHandler(likes *service.LikeService, log logrus.FieldLogger) *LikeHandler {
	return &LikeHandler{likes: likes, log: log}
}

type likeRequest struct {
	VideoID  string `json:"videoId" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required"`
}

// LikeResponse is returned for a new like
type LikeResponse struct {
	Message string       `json:"mensaje"`
	Like    *models.Like `json:"like"`
}

// LikeCheckResponse reports whether a device liked a video
type LikeCheckResponse struct {
	HasLike bool `json:"tienelike"`
}

// LikeListResponse lists a video's likes
type LikeListResponse struct {
	Likes []models.Like `json:"likes"`
	Total int           `json:"total"`
}

// Give handles POST /api/likes
func (h *LikeHandler) Give(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := bind(r, &req, likeFieldsMessage); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	like, err := h.likes.Give(r.Context(), req.VideoID, req.DeviceID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, LikeResponse{Message: "Like registrado con éxito", Like: like})
}

// Remove handles DELETE /api/likes
func (h *LikeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := bind(r, &req, likeFieldsMessage); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if err := h.likes.Remove(r.Context(), req.VideoID, req.DeviceID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Like eliminado correctamente"})
}

// Check handles GET /api/likes/verificar/{videoId}?deviceId=
func (h *LikeHandler) Check(w http.ResponseWriter, r *http.Request) {
	has, err := h.likes.Has(r.Context(), mux.Vars(r)["videoId"], r.URL.Query().Get("deviceId"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, LikeCheckResponse{HasLike: has})
}

// ListByVideo handles GET /api/likes/video/{videoId}
func (h *LikeHandler) ListByVideo(w http.ResponseWriter, r *http.Request) {
	likes, err := h.likes.ListByVideo(r.Context(), mux.Vars(r)["videoId"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, LikeListResponse{Likes: likes, Total: len(likes)})
}
