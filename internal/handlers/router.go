// Package handlers exposes the services over HTTP.
package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handlers groups everything the router serves
type Handlers struct {
	Videos   *VideoHandler
	Likes    *LikeHandler
	Comments *CommentHandler
	Version  string
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// NewRouter builds the HTTP surface. Every API route is traced. CORS and
// request logging wrap the router so preflight requests never reach it.
func NewRouter(h Handlers, log logrus.FieldLogger) http.Handler {
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	routes := []route{
		{http.MethodGet, "", h.index},
		{http.MethodPost, "/videos/subir", h.Videos.Upload},
		{http.MethodGet, "/videos", h.Videos.List},
		{http.MethodGet, "/videos/dispositivo/{deviceId}", h.Videos.ListByDevice},
		{http.MethodGet, "/videos/{id}", h.Videos.Get},
		{http.MethodDelete, "/videos/{id}", h.Videos.Delete},

		{http.MethodPost, "/likes", h.Likes.Give},
		{http.MethodDelete, "/likes", h.Likes.Remove},
		{http.MethodGet, "/likes/verificar/{videoId}", h.Likes.Check},
		{http.MethodGet, "/likes/video/{videoId}", h.Likes.ListByVideo},

		{http.MethodPost, "/comentarios", h.Comments.Create},
		{http.MethodGet, "/comentarios/video/{videoId}", h.Comments.ListByVideo},
		{http.MethodGet, "/comentarios/{id}", h.Comments.Get},
		{http.MethodDelete, "/comentarios/{id}", h.Comments.Delete},
	}
	for _, rt := range routes {
		name := rt.method + " /api" + rt.path
		api.Handle(rt.path, otelhttp.NewHandler(rt.handler, name)).Methods(rt.method)
	}
	api.Handle("/", otelhttp.NewHandler(http.HandlerFunc(h.index), "GET /api/")).Methods(http.MethodGet)

	return cors(requestLogger(log)(router))
}

func (h Handlers) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"mensaje": "API de videos funcionando correctamente",
		"version": h.Version,
	})
}

// cors allows any origin, answering preflight requests directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"latency_ms": time.Since(start).Milliseconds(),
			}).Info("request handled")
		})
	}
}
