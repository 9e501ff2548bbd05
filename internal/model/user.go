// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account and, at the same time, a channel other users
// can subscribe to.
//
// WHY json:"-" ON PasswordHash AND RefreshToken?
// Every response that carries a user goes through encoding/json. Excluding the
// two secret fields at the type level means no handler can leak them by
// accident, even if it forgets to call Sanitized().
//
// RefreshToken holds the SHA-256 digest of the single refresh token that is
// currently valid for this user, or "" when the user is logged out.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Username     string    `json:"username"   db:"username"` // always lower-case
	Email        string    `json:"email"      db:"email"`    // always lower-case
	FullName     string    `json:"fullname"   db:"fullname"`
	Avatar       string    `json:"avatar"     db:"avatar"`      // public URL, required
	CoverImage   string    `json:"coverImage" db:"cover_image"` // public URL, may be empty
	PasswordHash string    `json:"-"          db:"password_hash"`
	RefreshToken string    `json:"-"          db:"refresh_token"`
	CreatedAt    time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"  db:"updated_at"`
}

// Sanitized returns a copy of u without the password hash and refresh token.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	clean := *u
	clean.PasswordHash = ""
	clean.RefreshToken = ""
	return &clean
}

// Subscription is a directed edge: SubscriberID follows the channel ChannelID.
type Subscription struct {
	SubscriberID string    `json:"subscriber" db:"subscriber_id"`
	ChannelID    string    `json:"channel"    db:"channel_id"`
	CreatedAt    time.Time `json:"createdAt"  db:"created_at"`
}

// ChannelProfile is the public view of a channel as seen by one viewer.
type ChannelProfile struct {
	ID                        string `json:"id"                        db:"id"`
	FullName                  string `json:"fullname"                  db:"fullname"`
	Username                  string `json:"username"                  db:"username"`
	Email                     string `json:"email"                     db:"email"`
	Avatar                    string `json:"avatar"                    db:"avatar"`
	CoverImage                string `json:"coverImage"                db:"cover_image"`
	SubscribersCount          int64  `json:"subscribersCount"          db:"subscribers_count"`
	ChannelsSubscribedToCount int64  `json:"channelsSubscribedToCount" db:"channels_subscribed_to_count"`
	IsSubscribed              bool   `json:"isSubscribed"              db:"is_subscribed"`
}
