package repository

import (
	"context"

	"github.com/sakif/videotube/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// GetPublicUserByID never loads the password hash or refresh token.
	GetPublicUserByID(ctx context.Context, id string) (*model.User, error)
	// FindUserByEmailOrUsername matches either column; an empty argument matches nothing.
	FindUserByEmailOrUsername(ctx context.Context, email, username string) (*model.User, error)
	// SetRefreshToken overwrites the stored digest; "" clears it.
	SetRefreshToken(ctx context.Context, userID, digest string) error
	// RotateRefreshToken replaces oldDigest with newDigest only if oldDigest is
	// still the stored value. It reports whether the swap happened.
	RotateRefreshToken(ctx context.Context, userID, oldDigest, newDigest string) (bool, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// ChannelRepository serves the read-side aggregations.
type ChannelRepository interface {
	GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error)
	GetWatchHistory(ctx context.Context, userID string) ([]model.WatchedVideo, error)
}
