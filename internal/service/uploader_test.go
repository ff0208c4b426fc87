package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/maneesh/vidfeed/internal/apperr"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/intake"
	"github.com/maneesh/vidfeed/internal/probe"
	"github.com/maneesh/vidfeed/internal/remote"
	"github.com/maneesh/vidfeed/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadFixture struct {
	uploader *Uploader
	store    *flakyStore
	remote   *fakeRemote
	pub      *recordingPublisher
	tempDir  string
	probes   int
}

func newUploadFixture(t *testing.T, duration float64) *uploadFixture {
	t.Helper()
	f := &uploadFixture{
		store:  &flakyStore{MemoryStore: storage.NewMemoryStore()},
		remote: &fakeRemote{},
		pub:    &recordingPublisher{},
	}
	validator, dir := newTestValidator(t, 1024*1024, 60)
	f.tempDir = dir
	prober := proberFunc(func(ctx context.Context, path string) (probe.Result, error) {
		f.probes++
		return fixedProbe(duration)(ctx, path)
	})
	logger, _ := nullLogger()
	f.uploader = NewUploader(validator, prober, f.remote, f.store, f.pub, logger)
	return f
}

func mp4Request(size int) UploadRequest {
	return UploadRequest{
		File:         bytes.NewReader(make([]byte, size)),
		Filename:     "clip.mp4",
		ContentType:  "video/mp4",
		DeclaredSize: int64(size),
		DeviceID:     "device-1",
		Title:        "  my clip  ",
	}
}

func (f *uploadFixture) recordCount(t *testing.T) int64 {
	t.Helper()
	_, total, err := f.store.ListVideos(context.Background(), "", 0, 10)
	require.NoError(t, err)
	return total
}

func TestUploadSuccess(t *testing.T) {
	f := newUploadFixture(t, 40)

	v, err := f.uploader.Upload(context.Background(), mp4Request(4096))

	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "my clip", v.Title)
	assert.Equal(t, "device-1", v.DeviceID)
	assert.Equal(t, "remote-1", v.RemoteID)
	assert.Equal(t, "https://stream.example/remote-1/watch", v.PlaybackURL)
	assert.InDelta(t, 40.0, v.Metadata.Duration, 0.001)
	assert.Equal(t, int64(4096), v.Metadata.Size)
	assert.Equal(t, 720, v.Metadata.Width)
	assert.Equal(t, 1280, v.Metadata.Height)
	assert.Zero(t, v.LikeCount)
	assert.Zero(t, v.CommentCount)

	stored, err := f.store.GetVideo(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.RemoteID, stored.RemoteID)

	assert.Len(t, f.remote.uploads, 1)
	assert.Empty(t, f.remote.deletes)
	assert.Equal(t, []string{events.TypeVideoUploaded}, f.pub.types())
	requireEmptyDir(t, f.tempDir)
}

func TestUploadPrefersRemoteDimensions(t *testing.T) {
	f := newUploadFixture(t, 10)
	f.remote.asset = remote.Asset{RemoteID: "r", PlaybackURL: "u", Width: 1080, Height: 1920}

	v, err := f.uploader.Upload(context.Background(), mp4Request(10))

	require.NoError(t, err)
	assert.Equal(t, 1080, v.Metadata.Width)
	assert.Equal(t, 1920, v.Metadata.Height)
}

func TestUploadValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UploadRequest)
		code   string
	}{
		{"missing file", func(r *UploadRequest) { r.File = nil }, CodeMissingFile},
		{"missing device", func(r *UploadRequest) { r.DeviceID = "  " }, CodeMissingDevice},
		{"unsupported type", func(r *UploadRequest) { r.ContentType = "image/png" }, intake.CodeUnsupportedType},
		{"declared too large", func(r *UploadRequest) { r.DeclaredSize = 2 * 1024 * 1024 }, intake.CodeTooLarge},
		{"streamed too large", func(r *UploadRequest) {
			r.File = bytes.NewReader(make([]byte, 1024*1024+1))
			r.DeclaredSize = -1
		}, intake.CodeTooLarge},
		{"title too long", func(r *UploadRequest) { r.Title = strings.Repeat("t", MaxTitleLength+1) }, CodeFieldTooLong},
		{"device too long", func(r *UploadRequest) { r.DeviceID = strings.Repeat("d", MaxDeviceIDLength+1) }, CodeFieldTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t, 10)
			req := mp4Request(128)
			tt.mutate(&req)

			_, err := f.uploader.Upload(context.Background(), req)

			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			assert.Zero(t, f.probes)
			assert.Empty(t, f.remote.uploads)
			assert.Zero(t, f.recordCount(t))
			requireEmptyDir(t, f.tempDir)
		})
	}
}

func TestUploadTooLongNeverReachesRemote(t *testing.T) {
	f := newUploadFixture(t, 70)

	_, err := f.uploader.Upload(context.Background(), mp4Request(256))

	assert.True(t, errors.Is(err, &apperr.Error{Kind: apperr.KindValidation, Code: intake.CodeTooLong}))
	assert.Empty(t, f.remote.uploads)
	assert.Zero(t, f.recordCount(t))
	assert.Empty(t, f.pub.types())
	requireEmptyDir(t, f.tempDir)
}

func TestUploadDurationAtLimitPasses(t *testing.T) {
	f := newUploadFixture(t, 60)

	_, err := f.uploader.Upload(context.Background(), mp4Request(256))
	require.NoError(t, err)
}

func TestUploadProbeError(t *testing.T) {
	f := newUploadFixture(t, 10)
	f.uploader.prober = proberFunc(func(context.Context, string) (probe.Result, error) {
		return probe.Result{}, errors.New("stat failed")
	})

	_, err := f.uploader.Upload(context.Background(), mp4Request(256))

	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, CodeProbe, apperr.CodeOf(err))
	assert.Empty(t, f.remote.uploads)
	requireEmptyDir(t, f.tempDir)
}

func TestUploadRemoteFailurePersistsNothing(t *testing.T) {
	f := newUploadFixture(t, 10)
	f.remote.uploadErr = &remote.APIError{StatusCode: 502, Body: "bad gateway"}

	_, err := f.uploader.Upload(context.Background(), mp4Request(256))

	assert.Equal(t, apperr.KindRemoteStore, apperr.KindOf(err))
	assert.Equal(t, CodeRemoteStore, apperr.CodeOf(err))
	var apiErr *remote.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Zero(t, f.recordCount(t))
	assert.Empty(t, f.remote.deletes)
	requireEmptyDir(t, f.tempDir)
}

func TestUploadPersistFailureCompensatesOnce(t *testing.T) {
	f := newUploadFixture(t, 10)
	f.store.createErr = errors.New("db down")

	_, err := f.uploader.Upload(context.Background(), mp4Request(256))

	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.Equal(t, CodePersist, apperr.CodeOf(err))
	assert.Equal(t, []string{"remote-1"}, f.remote.deletes)
	assert.Empty(t, f.pub.types())
	requireEmptyDir(t, f.tempDir)
}

func TestUploadCompensationFailureIsLogged(t *testing.T) {
	f := newUploadFixture(t, 10)
	logger, hook := nullLogger()
	f.uploader.log = logger
	f.store.createErr = errors.New("db down")
	f.remote.deleteErr = errors.New("remote down")

	_, err := f.uploader.Upload(context.Background(), mp4Request(256))

	assert.Equal(t, CodePersist, apperr.CodeOf(err))
	assert.Len(t, f.remote.deletes, 1)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "failed to delete orphaned remote asset" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestUploadEventFailureDoesNotFail(t *testing.T) {
	f := newUploadFixture(t, 10)
	f.pub.err = errors.New("broker unavailable")

	v, err := f.uploader.Upload(context.Background(), mp4Request(256))

	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "duration_checked", StageDurationChecked.String())
	assert.Equal(t, "failed", StageFailed.String())
}

func TestReceiveThenCompleteWithLateDevice(t *testing.T) {
	f := newUploadFixture(t, 12)
	ctx := context.Background()

	spooled, err := f.uploader.Receive(ctx, bytes.NewReader(make([]byte, 512)), "clip.mp4", "video/mp4", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(512), spooled.Size())

	v, err := f.uploader.Complete(ctx, spooled, "late-device", "")
	require.NoError(t, err)
	assert.Equal(t, "late-device", v.DeviceID)
	requireEmptyDir(t, f.tempDir)
}

func TestCompleteWithoutDeviceCleansUp(t *testing.T) {
	f := newUploadFixture(t, 12)
	ctx := context.Background()

	spooled, err := f.uploader.Receive(ctx, bytes.NewReader(make([]byte, 64)), "clip.mp4", "video/mp4", -1)
	require.NoError(t, err)

	_, err = f.uploader.Complete(ctx, spooled, "", "")
	assert.Equal(t, CodeMissingDevice, apperr.CodeOf(err))
	assert.Zero(t, f.probes)
	requireEmptyDir(t, f.tempDir)
}

func TestAbandonRemovesSpool(t *testing.T) {
	f := newUploadFixture(t, 12)

	spooled, err := f.uploader.Receive(context.Background(), bytes.NewReader(make([]byte, 64)), "clip.mp4", "video/mp4", -1)
	require.NoError(t, err)

	f.uploader.Abandon(spooled)
	requireEmptyDir(t, f.tempDir)
}

func TestUploadTitleAtLimitPasses(t *testing.T) {
	f := newUploadFixture(t, 10)
	req := mp4Request(128)
	req.Title = strings.Repeat("é", MaxTitleLength)

	v, err := f.uploader.Upload(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, req.Title, v.Title)
}
