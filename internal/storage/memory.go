package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/vidfeed/internal/models"
)

type likeKey struct {
	videoID  string
	deviceID string
}

type seqVideo struct {
	seq   int64
	video models.Video
}

type seqComment struct {
	seq     int64
	comment models.Comment
}

type seqLike struct {
	seq  int64
	like models.Like
}

// MemoryStore is an in-process store with the same guarantees as
// MySQLStore: unique likes and counters changed atomically with the row.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	videos   map[string]*seqVideo
	likes    map[likeKey]*seqLike
	comments map[string]*seqComment
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		videos:   make(map[string]*seqVideo),
		likes:    make(map[likeKey]*seqLike),
		comments: make(map[string]*seqComment),
	}
}

func (m *MemoryStore) next() int64 {
	m.seq++
	return m.seq
}

// CreateVideo inserts a video record
func (m *MemoryStore) CreateVideo(_ context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.videos[v.ID]; ok {
		return ErrDuplicate
	}
	m.videos[v.ID] = &seqVideo{seq: m.next(), video: *v}
	return nil
}

// GetVideo retrieves a video by ID
func (m *MemoryStore) GetVideo(_ context.Context, id string) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sv, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	v := sv.video
	return &v, nil
}

// newestFirst orders by creation time, then by insertion order.
func newestFirst(aTime, bTime time.Time, aSeq, bSeq int64) bool {
	if !aTime.Equal(bTime) {
		return aTime.After(bTime)
	}
	return aSeq > bSeq
}

func window(n, offset, limit int) (int, int) {
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}

// ListVideos returns one page of videos, newest first, and the total count
func (m *MemoryStore) ListVideos(_ context.Context, deviceID string, offset, limit int) ([]models.Video, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*seqVideo
	for _, sv := range m.videos {
		if deviceID == "" || sv.video.DeviceID == deviceID {
			all = append(all, sv)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return newestFirst(all[i].video.CreatedAt, all[j].video.CreatedAt, all[i].seq, all[j].seq)
	})

	start, end := window(len(all), offset, limit)
	videos := make([]models.Video, 0, end-start)
	for _, sv := range all[start:end] {
		videos = append(videos, sv.video)
	}
	return videos, int64(len(all)), nil
}

// DeleteVideo removes a video together with its likes and comments
func (m *MemoryStore) DeleteVideo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.videos[id]; !ok {
		return ErrNotFound
	}
	delete(m.videos, id)
	for k := range m.likes {
		if k.videoID == id {
			delete(m.likes, k)
		}
	}
	for cid, sc := range m.comments {
		if sc.comment.VideoID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

func (m *MemoryStore) bump(videoID string, field *int64, delta int) {
	if delta < 0 && *field <= 0 {
		return
	}
	*field += int64(delta)
	m.videos[videoID].video.UpdatedAt = time.Now().UTC()
}

// LikeExists reports whether the device already liked the video
func (m *MemoryStore) LikeExists(_ context.Context, videoID, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.likes[likeKey{videoID, deviceID}]
	return ok, nil
}

// AddLike inserts a like and increments like_count atomically
func (m *MemoryStore) AddLike(_ context.Context, l *models.Like) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sv, ok := m.videos[l.VideoID]
	if !ok {
		return ErrNotFound
	}
	key := likeKey{l.VideoID, l.DeviceID}
	if _, ok := m.likes[key]; ok {
		return ErrDuplicate
	}
	m.likes[key] = &seqLike{seq: m.next(), like: *l}
	m.bump(l.VideoID, &sv.video.LikeCount, 1)
	return nil
}

// RemoveLike deletes a like and decrements like_count atomically
func (m *MemoryStore) RemoveLike(_ context.Context, videoID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := likeKey{videoID, deviceID}
	if _, ok := m.likes[key]; !ok {
		return ErrNotFound
	}
	delete(m.likes, key)
	if sv, ok := m.videos[videoID]; ok {
		m.bump(videoID, &sv.video.LikeCount, -1)
	}
	return nil
}

// ListLikes returns every like of a video, newest first
func (m *MemoryStore) ListLikes(_ context.Context, videoID string) ([]models.Like, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*seqLike
	for k, sl := range m.likes {
		if k.videoID == videoID {
			all = append(all, sl)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return newestFirst(all[i].like.CreatedAt, all[j].like.CreatedAt, all[i].seq, all[j].seq)
	})

	likes := make([]models.Like, 0, len(all))
	for _, sl := range all {
		likes = append(likes, sl.like)
	}
	return likes, nil
}

// AddComment inserts a comment and increments comment_count atomically
func (m *MemoryStore) AddComment(_ context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sv, ok := m.videos[c.VideoID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.comments[c.ID]; ok {
		return ErrDuplicate
	}
	m.comments[c.ID] = &seqComment{seq: m.next(), comment: *c}
	m.bump(c.VideoID, &sv.video.CommentCount, 1)
	return nil
}

// GetComment retrieves a comment by ID
func (m *MemoryStore) GetComment(_ context.Context, id string) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := sc.comment
	return &c, nil
}

// ListComments returns one page of a video's comments, newest first
func (m *MemoryStore) ListComments(_ context.Context, videoID string, offset, limit int) ([]models.Comment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*seqComment
	for _, sc := range m.comments {
		if sc.comment.VideoID == videoID {
			all = append(all, sc)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return newestFirst(all[i].comment.CreatedAt, all[j].comment.CreatedAt, all[i].seq, all[j].seq)
	})

	start, end := window(len(all), offset, limit)
	comments := make([]models.Comment, 0, end-start)
	for _, sc := range all[start:end] {
		comments = append(comments, sc.comment)
	}
	return comments, int64(len(all)), nil
}

// DeleteComment removes a comment, lowering comment_count when decrement
// is set
func (m *MemoryStore) DeleteComment(_ context.Context, c *models.Comment, decrement bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.comments[c.ID]; !ok {
		return ErrNotFound
	}
	delete(m.comments, c.ID)
	if sv, ok := m.videos[c.VideoID]; decrement && ok {
		m.bump(c.VideoID, &sv.video.CommentCount, -1)
	}
	return nil
}
