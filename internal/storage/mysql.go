package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/maneesh/vidfeed/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schema string

// MySQL error numbers
const (
	errDupEntry     = 1062
	errNoReferenced = 1452
)

const videoColumns = `id, title, playback_url, remote_id, thumbnail_url, duration, size_bytes,
	width, height, device_id, like_count, comment_count, created_at, updated_at`

// MySQLStore keeps videos, likes and comments in MySQL or TiDB
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL opens and pings a MySQL/TiDB connection
func OpenMySQL(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return NewMySQLStore(db), nil
}

// NewMySQLStore wraps an open database handle
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row rowScanner) (*models.Video, error) {
	var v models.Video
	err := row.Scan(
		&v.ID,
		&v.Title,
		&v.PlaybackURL,
		&v.RemoteID,
		&v.ThumbnailURL,
		&v.Metadata.Duration,
		&v.Metadata.Size,
		&v.Metadata.Width,
		&v.Metadata.Height,
		&v.DeviceID,
		&v.LikeCount,
		&v.CommentCount,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVideo inserts a video record
func (s *MySQLStore) CreateVideo(ctx context.Context, v *models.Video) error {
	ctx, span := tracer.Start(ctx, "mysql.create_video",
		trace.WithAttributes(
			attribute.String("video_id", v.ID),
			attribute.String("device_id", v.DeviceID),
		),
	)
	defer span.End()

	query := `INSERT INTO videos (` + videoColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.Title, v.PlaybackURL, v.RemoteID, v.ThumbnailURL,
		v.Metadata.Duration, v.Metadata.Size, v.Metadata.Width, v.Metadata.Height,
		v.DeviceID, v.LikeCount, v.CommentCount, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if isMySQLError(err, errDupEntry) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by ID
func (s *MySQLStore) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_video",
		trace.WithAttributes(attribute.String("video_id", id)),
	)
	defer span.End()

	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = ?`

	v, err := scanVideo(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query video: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return v, nil
}

// ListVideos returns one page of videos, newest first, and the total count.
// An empty deviceID lists every device.
func (s *MySQLStore) ListVideos(ctx context.Context, deviceID string, offset, limit int) ([]models.Video, int64, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_videos",
		trace.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.Int("offset", offset),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	where := ""
	var args []interface{}
	if deviceID != "" {
		where = " WHERE device_id = ?"
		args = append(args, deviceID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}

	query := `SELECT ` + videoColumns + ` FROM videos` + where + `
			  ORDER BY created_at DESC, id DESC
			  LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	videos := []models.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("error iterating videos: %w", err)
	}

	span.SetAttributes(
		attribute.Int("video_count", len(videos)),
		attribute.Int64("total", total),
	)
	return videos, total, nil
}

// DeleteVideo removes a video; its likes and comments cascade.
func (s *MySQLStore) DeleteVideo(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_video",
		trace.WithAttributes(attribute.String("video_id", id)),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *MySQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// adjustCounter applies delta to one of the video counters in place.
// Decrements never take a counter below zero.
func adjustCounter(ctx context.Context, tx *sql.Tx, column, videoID string, delta int) (sql.Result, error) {
	query := fmt.Sprintf(`UPDATE videos SET %[1]s = %[1]s + ?, updated_at = ? WHERE id = ?`, column)
	if delta < 0 {
		query += fmt.Sprintf(` AND %s > 0`, column)
	}
	return tx.ExecContext(ctx, query, delta, time.Now().UTC(), videoID)
}

// LikeExists reports whether the device already liked the video
func (s *MySQLStore) LikeExists(ctx context.Context, videoID, deviceID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "mysql.like_exists",
		trace.WithAttributes(
			attribute.String("video_id", videoID),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM likes WHERE video_id = ? AND device_id = ? LIMIT 1`, videoID, deviceID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to query like: %w", err)
	}
	return true, nil
}

// AddLike inserts a like and bumps the video's like_count in one
// transaction. The unique key on (video_id, device_id) turns a concurrent
// duplicate into ErrDuplicate with no counter change.
func (s *MySQLStore) AddLike(ctx context.Context, l *models.Like) error {
	ctx, span := tracer.Start(ctx, "mysql.add_like",
		trace.WithAttributes(
			attribute.String("video_id", l.VideoID),
			attribute.String("device_id", l.DeviceID),
		),
	)
	defer span.End()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO likes (id, video_id, device_id, created_at) VALUES (?, ?, ?, ?)`,
			l.ID, l.VideoID, l.DeviceID, l.CreatedAt,
		)
		switch {
		case isMySQLError(err, errDupEntry):
			return ErrDuplicate
		case isMySQLError(err, errNoReferenced):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("failed to insert like: %w", err)
		}

		res, err := adjustCounter(ctx, tx, "like_count", l.VideoID, 1)
		if err != nil {
			return fmt.Errorf("failed to increment like_count: %w", err)
		}
		return requireAffected(res)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// RemoveLike deletes a like and decrements like_count in one transaction
func (s *MySQLStore) RemoveLike(ctx context.Context, videoID, deviceID string) error {
	ctx, span := tracer.Start(ctx, "mysql.remove_like",
		trace.WithAttributes(
			attribute.String("video_id", videoID),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM likes WHERE video_id = ? AND device_id = ?`, videoID, deviceID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete like: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := adjustCounter(ctx, tx, "like_count", videoID, -1); err != nil {
			return fmt.Errorf("failed to decrement like_count: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ListLikes returns every like of a video, newest first
func (s *MySQLStore) ListLikes(ctx context.Context, videoID string) ([]models.Like, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_likes",
		trace.WithAttributes(attribute.String("video_id", videoID)),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, video_id, device_id, created_at FROM likes
			  WHERE video_id = ?
			  ORDER BY created_at DESC, id DESC`, videoID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query likes: %w", err)
	}
	defer rows.Close()

	likes := []models.Like{}
	for rows.Next() {
		var l models.Like
		if err := rows.Scan(&l.ID, &l.VideoID, &l.DeviceID, &l.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan like: %w", err)
		}
		likes = append(likes, l)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating likes: %w", err)
	}
	return likes, nil
}

// AddComment inserts a comment and bumps comment_count in one transaction
func (s *MySQLStore) AddComment(ctx context.Context, c *models.Comment) error {
	ctx, span := tracer.Start(ctx, "mysql.add_comment",
		trace.WithAttributes(
			attribute.String("comment_id", c.ID),
			attribute.String("video_id", c.VideoID),
		),
	)
	defer span.End()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO comments (id, video_id, device_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.VideoID, c.DeviceID, c.Text, c.CreatedAt,
		)
		switch {
		case isMySQLError(err, errNoReferenced):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("failed to insert comment: %w", err)
		}

		res, err := adjustCounter(ctx, tx, "comment_count", c.VideoID, 1)
		if err != nil {
			return fmt.Errorf("failed to increment comment_count: %w", err)
		}
		return requireAffected(res)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// GetComment retrieves a comment by ID
func (s *MySQLStore) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_comment",
		trace.WithAttributes(attribute.String("comment_id", id)),
	)
	defer span.End()

	var c models.Comment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, video_id, device_id, text, created_at FROM comments WHERE id = ?`, id,
	).Scan(&c.ID, &c.VideoID, &c.DeviceID, &c.Text, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query comment: %w", err)
	}
	return &c, nil
}

// ListComments returns one page of a video's comments, newest first
func (s *MySQLStore) ListComments(ctx context.Context, videoID string, offset, limit int) ([]models.Comment, int64, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_comments",
		trace.WithAttributes(
			attribute.String("video_id", videoID),
			attribute.Int("offset", offset),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE video_id = ?`, videoID,
	).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count comments: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, video_id, device_id, text, created_at FROM comments
			  WHERE video_id = ?
			  ORDER BY created_at DESC, id DESC
			  LIMIT ? OFFSET ?`, videoID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.VideoID, &c.DeviceID, &c.Text, &c.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, total, nil
}

// DeleteComment removes a comment. When decrement is set the parent's
// comment_count is lowered in the same transaction.
func (s *MySQLStore) DeleteComment(ctx context.Context, c *models.Comment, decrement bool) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_comment",
		trace.WithAttributes(
			attribute.String("comment_id", c.ID),
			attribute.Bool("decrement", decrement),
		),
	)
	defer span.End()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, c.ID)
		if err != nil {
			return fmt.Errorf("failed to delete comment: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if !decrement {
			return nil
		}
		if _, err := adjustCounter(ctx, tx, "comment_count", c.VideoID, -1); err != nil {
			return fmt.Errorf("failed to decrement comment_count: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}
