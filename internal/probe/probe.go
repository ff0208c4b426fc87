// Package probe reads duration and dimensions from a video file with
// ffprobe, falling back to a size-based estimate when ffprobe is unusable.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vidfeed-probe")

// FallbackBytesPerSecond is the assumed bitrate when ffprobe is unavailable:
// one MiB per eight seconds of video.
const FallbackBytesPerSecond = 1024 * 1024 / 8

// Result is what a probe learned about a file
type Result struct {
	Duration  float64
	Width     int
	Height    int
	Estimated bool
}

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Prober probes video files
type Prober struct {
	binary  string
	timeout time.Duration
	run     Runner
	log     logrus.FieldLogger
}

// Option customises a Prober
type Option func(*Prober)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(p *Prober) { p.run = r }
}

// NewProber creates a prober that invokes binary with the given timeout
func NewProber(binary string, timeout time.Duration, log logrus.FieldLogger, opts ...Option) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	p := &Prober{
		binary:  binary,
		timeout: timeout,
		run:     ExecRunner,
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the duration and dimensions of the file at path. It only
// fails when the file cannot be stat'd; any ffprobe failure degrades to
// the size-based estimate.
func (p *Prober) Probe(ctx context.Context, path string) (Result, error) {
	ctx, span := tracer.Start(ctx, "probe.probe",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	info, err := os.Stat(path)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	res, err := p.ffprobe(ctx, path)
	if err != nil {
		res = Estimate(info.Size())
		p.log.WithFields(logrus.Fields{
			"path":     path,
			"size":     info.Size(),
			"duration": res.Duration,
		}).WithError(err).Warn("ffprobe unavailable, estimating duration from file size")
	}

	span.SetAttributes(
		attribute.Float64("duration", res.Duration),
		attribute.Bool("estimated", res.Estimated),
	)
	return res, nil
}

func (p *Prober) ffprobe(ctx context.Context, path string) (Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parse(out)
}

func parse(out []byte) (Result, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return Result{}, fmt.Errorf("invalid duration %q: %w", parsed.Format.Duration, err)
	}
	if duration < 0 {
		return Result{}, fmt.Errorf("negative duration %v", duration)
	}

	res := Result{Duration: duration}
	for _, s := range parsed.Streams {
		if s.Width > 0 && s.Height > 0 {
			res.Width, res.Height = s.Width, s.Height
			break
		}
	}
	return res, nil
}

// Estimate derives a duration from the file size alone.
func Estimate(size int64) Result {
	return Result{
		Duration:  float64(size) / FallbackBytesPerSecond,
		Estimated: true,
	}
}
