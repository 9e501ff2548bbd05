package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/xid"
	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/model"
	"github.com/sakif/videotube/internal/repository"
)

var _ repository.ChannelRepository = (*DB)(nil)

// GetChannelProfile returns the public profile of the channel owned by
// username, with subscriber counts and whether viewerID subscribes to it.
//
// Everything comes back from ONE statement: the two counts and the EXISTS
// test are correlated subqueries on the outer users row. Squirrel builds it
// so the subqueries stay readable Go instead of one long SQL string:
//
//	SELECT u.id, ..., (SELECT COUNT(*) ...) AS subscribers_count, ...
//	FROM users AS u WHERE u.username = ? LIMIT 1
func (db *DB) GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error) {
	subscribers := db.sb.Select("COUNT(*)").
		From("subscriptions AS s").
		Where("s.channel_id = u.id")

	subscribedTo := db.sb.Select("COUNT(*)").
		From("subscriptions AS s").
		Where("s.subscriber_id = u.id")

	query, args, err := db.sb.
		Select("u.id", "u.fullname", "u.username", "u.email", "u.avatar", "u.cover_image").
		Column(sq.Alias(subscribers, "subscribers_count")).
		Column(sq.Alias(subscribedTo, "channels_subscribed_to_count")).
		Column(sq.Expr(
			"EXISTS (SELECT 1 FROM subscriptions AS s WHERE s.channel_id = u.id AND s.subscriber_id = ?) AS is_subscribed",
			viewerID,
		)).
		From("users AS u").
		Where(sq.Eq{"u.username": username}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building channel profile query: %w", err)
	}

	var profile model.ChannelProfile
	if err := db.conn.GetContext(ctx, &profile, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("channel", username)
		}
		return nil, fmt.Errorf("sqlite: getting channel profile %q: %w", username, err)
	}
	return &profile, nil
}

// historyRow is one joined row: the video plus the owner's columns, which
// are NULL when the owner account is gone (LEFT JOIN).
type historyRow struct {
	model.Video
	OwnerRefID    sql.NullString `db:"owner_ref_id"`
	OwnerFullName sql.NullString `db:"owner_fullname"`
	OwnerUsername sql.NullString `db:"owner_username"`
	OwnerAvatar   sql.NullString `db:"owner_avatar"`
}

// GetWatchHistory returns the videos in userID's history in watch order.
//
// The INNER JOIN on videos drops history entries whose video was deleted.
// The LEFT JOIN on users keeps videos whose owner was deleted; those come
// back with a nil Owner.
func (db *DB) GetWatchHistory(ctx context.Context, userID string) ([]model.WatchedVideo, error) {
	query, args, err := db.sb.
		Select(
			"v.id", "v.video_file", "v.thumbnail", "v.title", "v.description",
			"v.duration", "v.views", "v.is_published",
			"COALESCE(v.owner_id, '') AS owner_id",
			"v.created_at", "v.updated_at",
			"o.id AS owner_ref_id", "o.fullname AS owner_fullname",
			"o.username AS owner_username", "o.avatar AS owner_avatar",
		).
		From("watch_history AS h").
		Join("videos AS v ON v.id = h.video_id").
		LeftJoin("users AS o ON o.id = v.owner_id").
		Where(sq.Eq{"h.user_id": userID}).
		OrderBy("h.position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building watch history query: %w", err)
	}

	var rows []historyRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: getting watch history for %s: %w", userID, err)
	}

	history := make([]model.WatchedVideo, 0, len(rows))
	for _, r := range rows {
		entry := model.WatchedVideo{Video: r.Video}
		if r.OwnerRefID.Valid {
			entry.Owner = &model.Owner{
				ID:       r.OwnerRefID.String,
				FullName: r.OwnerFullName.String,
				Username: r.OwnerUsername.String,
				Avatar:   r.OwnerAvatar.String,
			}
		}
		history = append(history, entry)
	}
	return history, nil
}

// =========================================================================
// WRITE SIDE
// The HTTP API never writes these tables; the seed command and tests do.
// =========================================================================

// Subscribe records that subscriberID follows channelID. Subscribing twice
// is a no-op.
func (db *DB) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (subscriber_id, channel_id, created_at) VALUES (?, ?, ?)`,
		subscriberID, channelID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: subscribing %s to %s: %w", subscriberID, channelID, err)
	}
	return nil
}

// CreateVideo inserts a video and fills in its ID and timestamps.
func (db *DB) CreateVideo(ctx context.Context, video *model.Video) error {
	now := time.Now().UTC()
	video.ID = xid.New().String()
	video.CreatedAt = now
	video.UpdatedAt = now

	_, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO videos (id, video_file, thumbnail, title, description, duration, views, is_published, owner_id, created_at, updated_at)
		 VALUES (:id, :video_file, :thumbnail, :title, :description, :duration, :views, :is_published, NULLIF(:owner_id, ''), :created_at, :updated_at)`,
		video,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting video %q: %w", video.Title, err)
	}
	return nil
}

// DeleteVideo removes a video. History entries pointing at it are kept and
// skipped on read.
func (db *DB) DeleteVideo(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting video %s: %w", id, err)
	}
	return requireOneRow(res, "video", id)
}

// AddToWatchHistory appends videoID to the end of userID's history.
func (db *DB) AddToWatchHistory(ctx context.Context, userID, videoID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO watch_history (user_id, position, video_id, watched_at)
		 SELECT ?, COALESCE(MAX(position), -1) + 1, ?, ?
		 FROM watch_history WHERE user_id = ?`,
		userID, videoID, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding %s to history of %s: %w", videoID, userID, err)
	}
	return nil
}
