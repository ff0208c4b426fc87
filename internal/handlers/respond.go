package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vidfeed-handlers")

var validate = validator.New()

const (
	codeInvalidBody = "invalid-body"
	codeInternal    = "internal"

	serverErrorMessage = "Error en el servidor. Por favor, inténtalo de nuevo más tarde."
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MessageResponse acknowledges an operation
type MessageResponse struct {
	Message string `json:"mensaje"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindDuplicate:
		return http.StatusBadRequest
	case apperr.KindOwnership:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	trace.SpanFromContext(r.Context()).RecordError(err)

	e, ok := apperr.As(err)
	if !ok {
		log.WithError(err).WithField("path", r.URL.Path).Error("unhandled error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: serverErrorMessage, Code: codeInternal})
		return
	}

	status := statusFor(e.Kind)
	entry := log.WithError(err).WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"status": status,
		"code":   e.Code,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	message := e.Message
	if message == "" {
		message = serverErrorMessage
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: e.Code})
}

// bind decodes a JSON body into dst and validates its struct tags. An
// empty body leaves dst untouched before validation.
func bind(r *http.Request, dst interface{}, message string) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.KindValidation, codeInvalidBody, "Cuerpo de la petición no válido.", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "missing-fields", message, err)
	}
	return nil
}

// queryInt reads an integer query parameter; missing or malformed values are 0.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
