package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maneesh/vidfeed/internal/intake"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/maneesh/vidfeed/internal/probe"
	"github.com/maneesh/vidfeed/internal/remote"
	"github.com/maneesh/vidfeed/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type proberFunc func(ctx context.Context, path string) (probe.Result, error)

func (f proberFunc) Probe(ctx context.Context, path string) (probe.Result, error) {
	return f(ctx, path)
}

func fixedProbe(duration float64) proberFunc {
	return func(context.Context, string) (probe.Result, error) {
		return probe.Result{Duration: duration, Width: 720, Height: 1280}, nil
	}
}

type fakeRemote struct {
	mu        sync.Mutex
	asset     remote.Asset
	uploadErr error
	deleteErr error
	uploads   []string
	deletes   []string
}

func (f *fakeRemote) Upload(_ context.Context, path string) (*remote.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, path)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	a := f.asset
	if a.RemoteID == "" {
		a.RemoteID = "remote-1"
		a.PlaybackURL = "https://stream.example/remote-1/watch"
	}
	return &a, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeRemote) Info(_ context.Context, id string) (*remote.Asset, error) {
	a := f.asset
	a.RemoteID = id
	return &a, nil
}

// flakyStore fails selected writes and otherwise behaves like memory.
type flakyStore struct {
	*storage.MemoryStore
	createErr error
	deleteErr error
}

func (s *flakyStore) CreateVideo(ctx context.Context, v *models.Video) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStore.CreateVideo(ctx, v)
}

func (s *flakyStore) DeleteVideo(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.DeleteVideo(ctx, id)
}

type published struct {
	eventType string
	key       string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, key string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType, key})
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

func nullLogger() (logrus.FieldLogger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func newTestValidator(t *testing.T, maxSize int64, maxDuration float64) (*intake.Validator, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "temp")
	logger, _ := nullLogger()
	return intake.NewValidator(intake.Policy{
		AllowedTypes: intake.DefaultAllowedTypes,
		MaxSize:      maxSize,
		MaxDuration:  maxDuration,
		TempDir:      dir,
	}, logger), dir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	require.Empty(t, entries, "temp files left behind")
}
