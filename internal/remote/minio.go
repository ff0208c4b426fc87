package remote

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PresignTTL is how long a MinIO playback URL stays valid
const PresignTTL = 24 * time.Hour

// MinioConfig configures an S3-compatible store
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectClient is the part of *minio.Client the store uses
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinioStore keeps videos in an S3-compatible bucket. Playback URLs are
// presigned, so callers re-sign them on read through PlaybackURL.
type MinioStore struct {
	client     objectClient
	bucketName string
}

// NewMinioStore initializes a MinIO client and ensures the bucket exists
func NewMinioStore(ctx context.Context, cfg MinioConfig, log logrus.FieldLogger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return newMinioStore(ctx, client, cfg.Bucket, log)
}

func newMinioStore(ctx context.Context, client objectClient, bucket string, log logrus.FieldLogger) (*MinioStore, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.WithField("bucket", bucket).Info("creating bucket")
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucketName: bucket}, nil
}

// objectKey names a new object, keeping the file's extension.
func objectKey(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if len(ext) > 9 {
		ext = ""
	}
	return fmt.Sprintf("videos/%s%s", uuid.New().String(), ext)
}

// Upload puts the file at path into the bucket
func (ms *MinioStore) Upload(ctx context.Context, path string) (*Asset, error) {
	key := objectKey(path)
	ctx, span := tracer.Start(ctx, "minio.upload",
		trace.WithAttributes(
			attribute.String("path", path),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	contentType := "application/octet-stream"
	if m, err := mimetype.DetectFile(path); err == nil {
		contentType = m.String()
	}

	info, err := ms.client.FPutObject(ctx, ms.bucketName, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}

	asset, err := ms.asset(ctx, key, info.Size)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("size_bytes", info.Size))
	return asset, nil
}

// Delete removes the object
func (ms *MinioStore) Delete(ctx context.Context, remoteID string) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(attribute.String("object_key", remoteID)),
	)
	defer span.End()

	if err := ms.client.RemoveObject(ctx, ms.bucketName, remoteID, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Info stats the object and issues a fresh playback URL
func (ms *MinioStore) Info(ctx context.Context, remoteID string) (*Asset, error) {
	ctx, span := tracer.Start(ctx, "minio.info",
		trace.WithAttributes(attribute.String("object_key", remoteID)),
	)
	defer span.End()

	stat, err := ms.client.StatObject(ctx, ms.bucketName, remoteID, minio.StatObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return ms.asset(ctx, remoteID, stat.Size)
}

// PlaybackURL presigns a fresh GET URL for the object
func (ms *MinioStore) PlaybackURL(ctx context.Context, remoteID string) (string, error) {
	u, err := ms.client.PresignedGetObject(ctx, ms.bucketName, remoteID, PresignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return u.String(), nil
}

func (ms *MinioStore) asset(ctx context.Context, key string, size int64) (*Asset, error) {
	playback, err := ms.PlaybackURL(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Asset{
		RemoteID:    key,
		PlaybackURL: playback,
		Size:        size,
	}, nil
}
