package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/model"
	"github.com/sakif/videotube/internal/repository"
)

// ChannelService serves the read-only channel views.
type ChannelService struct {
	channels repository.ChannelRepository
}

func NewChannelService(channels repository.ChannelRepository) *ChannelService {
	return &ChannelService{channels: channels}
}

// GetChannelProfile returns the channel named username as seen by viewerID.
func (s *ChannelService) GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error) {
	username = normalize(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is missing")
	}

	profile, err := s.channels.GetChannelProfile(ctx, username, viewerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("channel", username)
		}
		return nil, fmt.Errorf("service/channel: loading profile %q: %w", username, err)
	}
	return profile, nil
}

// GetWatchHistory returns userID's watch history, oldest first.
func (s *ChannelService) GetWatchHistory(ctx context.Context, userID string) ([]model.WatchedVideo, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.Unauthorized("unauthorized request")
	}

	history, err := s.channels.GetWatchHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/channel: loading watch history for %s: %w", userID, err)
	}
	if history == nil {
		history = []model.WatchedVideo{}
	}
	return history, nil
}
