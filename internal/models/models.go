package models

import "time"

// Metadata holds the probed and remotely reported properties of a video
type Metadata struct {
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// Video represents a published video record
type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PlaybackURL  string    `json:"cloudflareUrl"`
	RemoteID     string    `json:"cloudflareId"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	Metadata     Metadata  `json:"metadata"`
	DeviceID     string    `json:"deviceId"`
	LikeCount    int64     `json:"likeCount"`
	CommentCount int64     `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Like records one device liking one video. (VideoID, DeviceID) is unique.
type Like struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	DeviceID  string    `json:"deviceId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Comment is a short text attached to a video
type Comment struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	DeviceID  string    `json:"deviceId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is one slice of a reverse-chronological listing
type Page[T any] struct {
	Items       []T   `json:"items"`
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
}

// NewPage builds a page, computing TotalPages as ceil(total/limit).
// A nil items slice is replaced so the JSON form is always an array.
func NewPage[T any](items []T, page, limit int, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Page[T]{
		Items:       items,
		CurrentPage: page,
		TotalPages:  pages,
		TotalCount:  total,
	}
}

// Offset returns the number of rows to skip for a 1-based page.
func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}
