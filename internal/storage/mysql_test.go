package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var videoCols = []string{
	"id", "title", "playback_url", "remote_id", "thumbnail_url", "duration", "size_bytes",
	"width", "height", "device_id", "like_count", "comment_count", "created_at", "updated_at",
}

func newMock(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewMySQLStore(db), mock
}

func videoRow(id, device string, created time.Time) []driver.Value {
	return []driver.Value{id, "title", "https://x/" + id + "/watch", "r-" + id, "", 40.0, int64(1024), 720, 1280, device, int64(0), int64(0), created, created}
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestMigrateAppliesEveryTable(t *testing.T) {
	store, mock := newMock(t)
	for _, table := range []string{"videos", "likes", "comments"} {
		mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS " + table)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
}

func TestCreateVideo(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	v := &models.Video{ID: "v1", Title: "hi", DeviceID: "dev", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(q("INSERT INTO videos")).
		WithArgs("v1", "hi", "", "", "", 0.0, int64(0), 0, 0, "dev", int64(0), int64(0), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.CreateVideo(context.Background(), v))
}

func TestGetVideo(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(q("FROM videos WHERE id = ?")).WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(videoCols).AddRow(videoRow("v1", "dev", created)...))
	mock.ExpectQuery(q("FROM videos WHERE id = ?")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(videoCols))

	v, err := store.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "dev", v.DeviceID)
	assert.Equal(t, 720, v.Metadata.Width)
	assert.Equal(t, created, v.CreatedAt)

	_, err = store.GetVideo(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVideosByDevice(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(q("SELECT COUNT(*) FROM videos WHERE device_id = ?")).WithArgs("dev").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(q("ORDER BY created_at DESC, id DESC")).WithArgs("dev", 10, 10).
		WillReturnRows(sqlmock.NewRows(videoCols).
			AddRow(videoRow("v11", "dev", now)...).
			AddRow(videoRow("v12", "dev", now.Add(-time.Second))...))

	videos, total, err := store.ListVideos(context.Background(), "dev", 10, 10)

	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	require.Len(t, videos, 2)
	assert.Equal(t, "v11", videos[0].ID)
}

func TestDeleteVideoNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("DELETE FROM videos WHERE id = ?")).WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeleteVideo(context.Background(), "v1"), ErrNotFound)
}

func TestAddLikeIncrementsInTransaction(t *testing.T) {
	store, mock := newMock(t)
	l := &models.Like{ID: "l1", VideoID: "v1", DeviceID: "dev", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO likes")).WithArgs("l1", "v1", "dev", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("UPDATE videos SET like_count = like_count + ?")).WithArgs(1, sqlmock.AnyArg(), "v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AddLike(context.Background(), l))
}

func TestAddLikeDuplicateLeavesCounter(t *testing.T) {
	store, mock := newMock(t)
	l := &models.Like{ID: "l2", VideoID: "v1", DeviceID: "dev", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO likes")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'v1-dev'"})
	mock.ExpectRollback()

	err := store.AddLike(context.Background(), l)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAddLikeUnknownVideo(t *testing.T) {
	store, mock := newMock(t)
	l := &models.Like{ID: "l3", VideoID: "nope", DeviceID: "dev", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO likes")).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "foreign key constraint fails"})
	mock.ExpectRollback()

	assert.ErrorIs(t, store.AddLike(context.Background(), l), ErrNotFound)
}

func TestRemoveLike(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM likes WHERE video_id = ? AND device_id = ?")).WithArgs("v1", "dev").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE videos SET like_count = like_count + ?, updated_at = ? WHERE id = ? AND like_count > 0")).
		WithArgs(-1, sqlmock.AnyArg(), "v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM likes")).WithArgs("v1", "other").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, store.RemoveLike(context.Background(), "v1", "dev"))
	assert.ErrorIs(t, store.RemoveLike(context.Background(), "v1", "other"), ErrNotFound)
}

func TestAddCommentIncrements(t *testing.T) {
	store, mock := newMock(t)
	c := &models.Comment{ID: "c1", VideoID: "v1", DeviceID: "dev", Text: "nice", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO comments")).WithArgs("c1", "v1", "dev", "nice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("UPDATE videos SET comment_count = comment_count + ?")).WithArgs(1, sqlmock.AnyArg(), "v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AddComment(context.Background(), c))
}

func TestDeleteCommentDecrementSetting(t *testing.T) {
	c := &models.Comment{ID: "c1", VideoID: "v1"}

	t.Run("keeps counter", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q("DELETE FROM comments WHERE id = ?")).WithArgs("c1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteComment(context.Background(), c, false))
	})

	t.Run("decrements counter", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q("DELETE FROM comments WHERE id = ?")).WithArgs("c1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("comment_count = comment_count + ?")).WithArgs(-1, sqlmock.AnyArg(), "v1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteComment(context.Background(), c, true))
	})
}

func TestListCommentsPropagatesErrors(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("SELECT COUNT(*) FROM comments")).WillReturnError(errors.New("connection reset"))

	_, _, err := store.ListComments(context.Background(), "v1", 0, 20)
	assert.ErrorContains(t, err, "connection reset")
}
