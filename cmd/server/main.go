package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/vidfeed/internal/config"
	"github.com/maneesh/vidfeed/internal/events"
	"github.com/maneesh/vidfeed/internal/handlers"
	"github.com/maneesh/vidfeed/internal/intake"
	"github.com/maneesh/vidfeed/internal/logging"
	"github.com/maneesh/vidfeed/internal/probe"
	"github.com/maneesh/vidfeed/internal/remote"
	"github.com/maneesh/vidfeed/internal/service"
	"github.com/maneesh/vidfeed/internal/storage"
	"github.com/maneesh/vidfeed/internal/tracing"
	"github.com/sirupsen/logrus"
)

// store is everything the services persist through.
type store interface {
	service.VideoStore
	service.LikeStore
	service.CommentStore
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: cfg.ServiceName,
	})
	log.WithFields(logrus.Fields{
		"port":           cfg.ServicePort,
		"version":        cfg.Version,
		"max_video_size": cfg.MaxVideoSize,
		"max_duration_s": cfg.MaxVideoDuration,
		"storage_driver": cfg.StorageDriver,
		"remote_store":   cfg.RemoteStore,
	}).Info("starting vidfeed service")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("service stopped")
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx := context.Background()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Endpoint:       cfg.JaegerEndpoint,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.WithError(err).Warn("error shutting down tracer")
		}
	}()

	db, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	rs, err := openRemote(ctx, cfg, log)
	if err != nil {
		return err
	}

	pub, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	var videoOpts []service.VideoOption
	if cfg.RedisEnabled {
		log.WithField("addr", cfg.GetRedisAddr()).Info("connecting to Redis")
		cache, err := storage.NewRedisCache(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis cache: %w", err)
		}
		defer cache.Close()
		videoOpts = append(videoOpts, service.WithCache(cache))
	}

	validator := intake.NewValidator(intake.Policy{
		AllowedTypes: cfg.AllowedTypes,
		MaxSize:      cfg.MaxVideoSize,
		MaxDuration:  cfg.MaxVideoDuration,
		TempDir:      cfg.UploadTempDir,
	}, log)
	prober := probe.NewProber(cfg.FFprobePath, cfg.ProbeTimeout, log)

	videos := service.NewVideoService(db, rs, pub, log, videoOpts...)
	uploader := service.NewUploader(validator, prober, rs, db, pub, log)
	likes := service.NewLikeService(db, videos, pub, log)
	comments := service.NewCommentService(db, videos, cfg.CommentDeleteDecrements, pub, log)

	router := handlers.NewRouter(handlers.Handlers{
		Videos:   handlers.NewVideoHandler(uploader, videos, cfg.MaxVideoSize, log),
		Likes:    handlers.NewLikeHandler(likes, log),
		Comments: handlers.NewCommentHandler(comments, log),
		Version:  cfg.Version,
	}, log)

	// Uploads stream the whole body through the pipeline, so the read
	// and write timeouts are sized for the remote transfer.
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.CloudflareRequestTimeout,
		WriteTimeout:      cfg.CloudflareRequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.ServicePort).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store, func(), error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("using in-memory storage; records are lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	log.WithField("host", cfg.DBHost).Info("connecting to MySQL")
	db, err := storage.OpenMySQL(cfg.GetDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize MySQL store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, func() { db.Close() }, nil
}

func openRemote(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (remote.Store, error) {
	if cfg.RemoteStore == "minio" {
		log.WithField("endpoint", cfg.MinIOEndpoint).Info("connecting to MinIO")
		ms, err := remote.NewMinioStore(ctx, remote.MinioConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucketName,
			UseSSL:    cfg.MinIOUseSSL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MinIO store: %w", err)
		}
		return ms, nil
	}

	cs, err := remote.NewCloudflareStore(remote.CloudflareConfig{
		APIBaseURL:     cfg.CloudflareAPIBaseURL,
		AccountID:      cfg.CloudflareAccountID,
		Token:          cfg.CloudflareToken,
		CustomerDomain: cfg.CloudflareCustomerDomain,
		RequestTimeout: cfg.CloudflareRequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudflare Stream client: %w", err)
	}
	return cs, nil
}

func openPublisher(cfg *config.Config, log logrus.FieldLogger) (events.Publisher, error) {
	if !cfg.KafkaEnabled {
		return events.Noop{}, nil
	}
	log.WithField("brokers", cfg.KafkaBrokers).Info("connecting to Kafka")
	kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		return nil, err
	}
	return kp, nil
}
