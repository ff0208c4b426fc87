package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CloudflareConfig configures a Cloudflare Stream client
type CloudflareConfig struct {
	APIBaseURL     string
	AccountID      string
	Token          string
	CustomerDomain string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// CloudflareStore talks to the Cloudflare Stream REST API
type CloudflareStore struct {
	cfg    CloudflareConfig
	client *http.Client
}

// NewCloudflareStore creates a Stream client
func NewCloudflareStore(cfg CloudflareConfig) (*CloudflareStore, error) {
	if cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("cloudflare account id and token are required")
	}
	if cfg.CustomerDomain == "" {
		return nil, fmt.Errorf("cloudflare customer subdomain is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &CloudflareStore{cfg: cfg, client: client}, nil
}

type streamVideo struct {
	UID   string `json:"uid"`
	Input struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"input"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
}

type streamEnvelope struct {
	Success bool        `json:"success"`
	Result  streamVideo `json:"result"`
}

func (c *CloudflareStore) endpoint(parts ...string) string {
	u := fmt.Sprintf("%s/accounts/%s/stream", c.cfg.APIBaseURL, url.PathEscape(c.cfg.AccountID))
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *CloudflareStore) asset(v streamVideo) *Asset {
	return &Asset{
		RemoteID:     v.UID,
		PlaybackURL:  fmt.Sprintf("https://%s/%s/watch", c.cfg.CustomerDomain, v.UID),
		ThumbnailURL: fmt.Sprintf("https://%s/%s/thumbnails/thumbnail.jpg", c.cfg.CustomerDomain, v.UID),
		Width:        v.Input.Width,
		Height:       v.Input.Height,
		Duration:     v.Duration,
		Size:         v.Size,
	}
}

// Upload streams the file at path to Stream as a multipart form without
// buffering it in memory.
func (c *CloudflareStore) Upload(ctx context.Context, path string) (*Asset, error) {
	ctx, span := tracer.Start(ctx, "cloudflare.upload",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = form.WriteField("requireSignedURLs", "false")
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), pr)
	if err != nil {
		pr.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var env streamEnvelope
	if err := c.do(req, &env); err != nil {
		pr.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to upload video: %w", err)
	}
	if env.Result.UID == "" {
		err := fmt.Errorf("upload response carried no uid")
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("remote_id", env.Result.UID))
	return c.asset(env.Result), nil
}

// Delete removes a video from Stream.
func (c *CloudflareStore) Delete(ctx context.Context, remoteID string) error {
	ctx, span := tracer.Start(ctx, "cloudflare.delete",
		trace.WithAttributes(attribute.String("remote_id", remoteID)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(remoteID), nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete video %s: %w", remoteID, err)
	}
	return nil
}

// Info fetches the current state of a video.
func (c *CloudflareStore) Info(ctx context.Context, remoteID string) (*Asset, error) {
	ctx, span := tracer.Start(ctx, "cloudflare.info",
		trace.WithAttributes(attribute.String("remote_id", remoteID)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(remoteID), nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build info request: %w", err)
	}
	var env streamEnvelope
	if err := c.do(req, &env); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get video %s: %w", remoteID, err)
	}
	return c.asset(env.Result), nil
}

func (c *CloudflareStore) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
