package intake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mp4Header is a minimal ISO base media ftyp box.
var mp4Header = append([]byte("\x00\x00\x00\x20ftypisom\x00\x00\x02\x00isomiso2avc1mp41"), make([]byte, 64)...)

func newValidator(t *testing.T, maxSize int64) (*Validator, string, *test.Hook) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "temp")
	logger, hook := test.NewNullLogger()
	v := NewValidator(Policy{
		AllowedTypes: DefaultAllowedTypes,
		MaxSize:      maxSize,
		MaxDuration:  60,
		TempDir:      dir,
		ChunkSize:    16,
	}, logger)
	return v, dir, hook
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, code, apperr.CodeOf(err))
}

func TestCheckTypeAllowList(t *testing.T) {
	v, _, _ := newValidator(t, 1024)

	for _, ct := range []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/x-ms-wmv", "VIDEO/MP4; codecs=avc1"} {
		assert.NoError(t, v.CheckType(ct), ct)
	}
	for _, ct := range []string{"image/png", "video/webm", "text/plain"} {
		assertCode(t, v.CheckType(ct), CodeUnsupportedType)
	}
	assert.NoError(t, v.CheckType(""))
	assert.NoError(t, v.CheckType("application/octet-stream"))
}

func TestSpoolWritesOneFileWithChecksum(t *testing.T) {
	v, dir, _ := newValidator(t, 1024)
	body := bytes.Repeat([]byte("a"), 100)

	f, err := v.Spool(context.Background(), bytes.NewReader(body), "clip.mp4", "video/mp4")

	require.NoError(t, err)
	assert.Equal(t, int64(100), f.Size)
	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), f.SHA256)
	assert.Equal(t, ".mp4", filepath.Ext(f.Path))
	assert.Len(t, tempFiles(t, dir), 1)

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestSpoolSizeBound(t *testing.T) {
	v, dir, _ := newValidator(t, 64)

	f, err := v.Spool(context.Background(), bytes.NewReader(make([]byte, 64)), "at-limit.mp4", "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(64), f.Size)
	v.Discard(f.Path)

	_, err = v.Spool(context.Background(), bytes.NewReader(make([]byte, 65)), "over.mp4", "video/mp4")
	assertCode(t, err, CodeTooLarge)
	assert.Contains(t, err.Error(), "64 B")
	assert.Empty(t, tempFiles(t, dir))
}

func TestCheckDeclaredSize(t *testing.T) {
	v, _, _ := newValidator(t, 50*1024*1024)

	assert.NoError(t, v.CheckDeclaredSize(-1))
	assert.NoError(t, v.CheckDeclaredSize(50*1024*1024))
	err := v.CheckDeclaredSize(50*1024*1024 + 1)
	assertCode(t, err, CodeTooLarge)
	assert.Contains(t, err.Error(), "50 MiB")
}

func TestSpoolSniffsUndeclaredType(t *testing.T) {
	v, dir, _ := newValidator(t, 1024)

	f, err := v.Spool(context.Background(), bytes.NewReader(mp4Header), "upload", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", f.ContentType)
	v.Discard(f.Path)

	_, err = v.Spool(context.Background(), strings.NewReader("hello, this is plainly not a video"), "notes.mp4", "")
	assertCode(t, err, CodeUnsupportedType)
	assert.Empty(t, tempFiles(t, dir))
}

func TestSpoolCancelledContextCleansUp(t *testing.T) {
	v, dir, _ := newValidator(t, 1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Spool(ctx, bytes.NewReader(make([]byte, 32)), "clip.mp4", "video/mp4")

	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, tempFiles(t, dir))
}

func TestCheckDuration(t *testing.T) {
	v, _, _ := newValidator(t, 1024)

	assert.NoError(t, v.CheckDuration(59.9))
	assert.NoError(t, v.CheckDuration(60))
	err := v.CheckDuration(60.1)
	assertCode(t, err, CodeTooLong)
	assert.Contains(t, err.Error(), "60 segundos")
}

func TestDiscard(t *testing.T) {
	v, _, hook := newValidator(t, 1024)

	v.Discard(filepath.Join(t.TempDir(), "already-gone.mp4"))
	assert.Empty(t, hook.Entries)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep"), []byte("x"), 0o600))
	v.Discard(dir)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
