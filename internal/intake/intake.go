// Package intake validates an uploaded video and spools it to a temp file.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vidfeed-intake")

// DefaultChunkSize is the read size used while spooling.
const DefaultChunkSize = 256 * 1024

// sniffLen is how many leading bytes are kept for content detection.
const sniffLen = 3072

// Failure codes
const (
	CodeUnsupportedType = "unsupported-type"
	CodeTooLarge        = "too-large"
	CodeTooLong         = "too-long"
	CodeSpool           = "spool-error"
)

const unsupportedMessage = "Tipo de archivo no permitido. Solo se aceptan videos (MP4, MOV, AVI, WMV)."

// DefaultAllowedTypes are the accepted container types
var DefaultAllowedTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/x-msvideo",
	"video/x-ms-wmv",
}

// Policy holds the upload limits. It is fixed at construction.
type Policy struct {
	AllowedTypes []string
	MaxSize      int64
	MaxDuration  float64
	TempDir      string
	ChunkSize    int
}

// File is a spooled upload on local disk
type File struct {
	Path        string
	Size        int64
	SHA256      string
	ContentType string
}

// Validator applies a Policy. It holds no per-upload state.
type Validator struct {
	policy  Policy
	allowed map[string]struct{}
	log     logrus.FieldLogger
}

// NewValidator creates a validator for the given policy
func NewValidator(policy Policy, log logrus.FieldLogger) *Validator {
	if len(policy.AllowedTypes) == 0 {
		policy.AllowedTypes = DefaultAllowedTypes
	}
	if policy.ChunkSize <= 0 {
		policy.ChunkSize = DefaultChunkSize
	}
	if policy.TempDir == "" {
		policy.TempDir = os.TempDir()
	}
	allowed := make(map[string]struct{}, len(policy.AllowedTypes))
	for _, t := range policy.AllowedTypes {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &Validator{policy: policy, allowed: allowed, log: log}
}

// Policy returns the policy in force.
func (v *Validator) Policy() Policy {
	return v.policy
}

// needsSniff reports whether the declared type carries no information.
func needsSniff(declared string) bool {
	return declared == "" || declared == "application/octet-stream"
}

func normalize(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// CheckType validates the declared content type before anything touches
// disk. Uninformative types pass here and are sniffed during Spool.
func (v *Validator) CheckType(declared string) error {
	declared = normalize(declared)
	if needsSniff(declared) {
		return nil
	}
	if _, ok := v.allowed[declared]; !ok {
		return apperr.Validation(CodeUnsupportedType, unsupportedMessage)
	}
	return nil
}

// CheckDeclaredSize rejects a client-declared length over the limit.
// A negative size means unknown.
func (v *Validator) CheckDeclaredSize(size int64) error {
	if size > v.policy.MaxSize {
		return v.tooLarge()
	}
	return nil
}

// CheckDuration rejects videos longer than the limit.
func (v *Validator) CheckDuration(duration float64) error {
	if duration > v.policy.MaxDuration {
		return apperr.Validation(CodeTooLong, fmt.Sprintf(
			"La duración del video excede el límite permitido de %s segundos.",
			humanize.Ftoa(v.policy.MaxDuration)))
	}
	return nil
}

func (v *Validator) tooLarge() error {
	return apperr.Validation(CodeTooLarge, fmt.Sprintf(
		"El archivo excede el tamaño máximo permitido de %s.",
		humanize.IBytes(uint64(v.policy.MaxSize))))
}

var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

// Spool streams r into a single temp file under the policy's temp dir,
// counting bytes and hashing as it goes. It fails with too-large as soon
// as the limit is crossed and never leaves a partial file behind.
func (v *Validator) Spool(ctx context.Context, r io.Reader, filename, declaredType string) (*File, error) {
	ctx, span := tracer.Start(ctx, "intake.spool",
		trace.WithAttributes(attribute.String("file_name", filename)),
	)
	defer span.End()

	if err := os.MkdirAll(v.policy.TempDir, 0o755); err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.KindInternal, CodeSpool, "failed to prepare temp dir", err)
	}

	ext := filepath.Ext(filename)
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	f, err := os.CreateTemp(v.policy.TempDir, "video-*"+ext)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.KindInternal, CodeSpool, "failed to create temp file", err)
	}

	file := &File{Path: f.Name(), ContentType: normalize(declaredType)}
	hasher := sha256.New()
	header, err := v.copyChunks(ctx, f, r, hasher, file)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = apperr.Wrap(apperr.KindInternal, CodeSpool, "failed to write temp file", closeErr)
	}
	if err != nil {
		span.RecordError(err)
		v.Discard(file.Path)
		return nil, err
	}
	file.SHA256 = hex.EncodeToString(hasher.Sum(nil))

	if needsSniff(file.ContentType) {
		detected := mimetype.Detect(header)
		if !v.allowedMIME(detected) {
			v.Discard(file.Path)
			err := apperr.Validation(CodeUnsupportedType, unsupportedMessage)
			span.RecordError(err)
			return nil, err
		}
		file.ContentType = detected.String()
	}

	span.SetAttributes(
		attribute.Int64("size_bytes", file.Size),
		attribute.String("content_type", file.ContentType),
	)
	return file, nil
}

func (v *Validator) copyChunks(ctx context.Context, w io.Writer, r io.Reader, hasher hash.Hash, file *File) ([]byte, error) {
	buf := make([]byte, v.policy.ChunkSize)
	header := make([]byte, 0, sniffLen)

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, CodeSpool, "upload cancelled", err)
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			file.Size += int64(n)
			if file.Size > v.policy.MaxSize {
				return nil, v.tooLarge()
			}
			chunk := buf[:n]
			if room := sniffLen - len(header); room > 0 {
				header = append(header, chunk[:min(room, n)]...)
			}
			hasher.Write(chunk)
			if _, err := w.Write(chunk); err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, CodeSpool, "failed to write temp file", err)
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return header, nil
		} else if readErr != nil {
			return nil, apperr.Wrap(apperr.KindInternal, CodeSpool, "failed to read upload", readErr)
		}
	}
}

func (v *Validator) allowedMIME(detected *mimetype.MIME) bool {
	for t := range v.allowed {
		if detected.Is(t) {
			return true
		}
	}
	return false
}

// Discard removes a spooled file. A missing file is fine; any other
// failure is logged and otherwise ignored so it never masks the caller's
// own error.
func (v *Validator) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.log.WithField("path", path).WithError(err).Warn("failed to remove temp file")
	}
}
