package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/service"
	"github.com/sirupsen/logrus"
)

// CommentHandler serves /api/comentarios
type CommentHandler struct {
	comments *service.CommentService
	log      logrus.FieldLogger
}

// NewCommentHandler creates the comment handler
func NewCommentHandler(comments *service.CommentService, log logrus.FieldLogger) *CommentHandler {
	return &CommentHandler{comments: comments, log: log}
}

type commentRequest struct {
	VideoID  string `json:"videoId" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required"`
	Text     string `json:"text" validate:"required"`
}

// CommentResponse wraps a single comment
type CommentResponse struct {
	Message string          `json:"mensaje,omitempty"`
	Comment *models.Comment `json:"comentario"`
}

// Create handles POST /api/comentarios
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := bind(r, &req, "El ID del video, el ID del dispositivo y el texto son obligatorios."); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	comment, err := h.comments.Create(r.Context(), req.VideoID, req.DeviceID, req.Text)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, CommentResponse{Message: "Comentario creado con éxito", Comment: comment})
}

// ListByVideo handles GET /api/comentarios/video/{videoId}
func (h *CommentHandler) ListByVideo(w http.ResponseWriter, r *http.Request) {
	page, err := h.comments.ListByVideo(r.Context(), mux.Vars(r)["videoId"], queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /api/comentarios/{id}
func (h *CommentHandler) Get(w http.ResponseWriter, r *http.Request) {
	comment, err := h.comments.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CommentResponse{Comment: comment})
}

// Delete handles DELETE /api/comentarios/{id}
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	req := ownerRequest{DeviceID: r.URL.Query().Get("deviceId")}
	if err := bind(r, &req, "El ID del comentario y el ID del dispositivo son obligatorios."); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if err := h.comments.Delete(r.Context(), mux.Vars(r)["id"], req.DeviceID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Comentario eliminado correctamente"})
}
