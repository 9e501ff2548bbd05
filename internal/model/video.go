package model

import "time"

// Video is an uploaded video owned by a channel.
type Video struct {
	ID          string    `json:"id"          db:"id"`
	VideoFile   string    `json:"videoFile"   db:"video_file"`
	Thumbnail   string    `json:"thumbnail"   db:"thumbnail"`
	Title       string    `json:"title"       db:"title"`
	Description string    `json:"description" db:"description"`
	Duration    float64   `json:"duration"    db:"duration"` // seconds
	Views       int64     `json:"views"       db:"views"`
	IsPublished bool      `json:"isPublished" db:"is_published"`
	OwnerID     string    `json:"ownerId"     db:"owner_id"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// Owner is the reduced public profile embedded in watch-history entries.
type Owner struct {
	ID       string `json:"id"`
	FullName string `json:"fullname"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// WatchedVideo is one hydrated watch-history entry. Owner is nil when the
// owning account no longer exists.
type WatchedVideo struct {
	Video
	Owner *Owner `json:"owner"`
}
