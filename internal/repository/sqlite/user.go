package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/model"
	"github.com/sakif/videotube/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// Two projections of the users table.
//
// privateColumns is what the auth flows need: it includes the password hash
// and the refresh token digest. publicColumns is what every response and the
// auth middleware see. Keeping them as two constants, instead of loading the
// full row and blanking fields afterwards, means the secret columns are never
// read for public lookups in the first place.
const (
	publicColumns = `id, username, email, fullname, avatar, cover_image, created_at, updated_at`

	privateColumns = publicColumns + `, password_hash, COALESCE(refresh_token, '') AS refresh_token`
)

// CreateUser inserts a new user. ID and timestamps are filled in on the
// passed struct (pointer receiver).
//
// Username and email must already be normalised (lower-case, trimmed) by the
// caller. The UNIQUE constraints on both columns are the final arbiter when
// two registrations race: the loser gets apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO users (id, username, email, fullname, avatar, cover_image, password_hash, created_at, updated_at)
		 VALUES (:id, :username, :email, :fullname, :avatar, :cover_image, :password_hash, :created_at, :updated_at)`,
		user,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "user with email or username already exists")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetUserByID loads the full record, including credentials.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u, `SELECT `+privateColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return &u, nil
}

// GetPublicUserByID loads the sanitized projection.
func (db *DB) GetPublicUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u, `SELECT `+publicColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting public user %s: %w", id, err)
	}
	return &u, nil
}

// FindUserByEmailOrUsername returns the first user whose email equals email
// OR whose username equals username. Empty arguments are skipped, so a login
// with only a username never matches a user with an empty email.
func (db *DB) FindUserByEmailOrUsername(ctx context.Context, email, username string) (*model.User, error) {
	if email == "" && username == "" {
		return nil, apperror.NotFound("user", "")
	}

	var u model.User
	err := db.conn.GetContext(ctx, &u,
		`SELECT `+privateColumns+` FROM users
		 WHERE (? <> '' AND email = ?) OR (? <> '' AND username = ?)
		 LIMIT 1`,
		email, email, username, username,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			key := email
			if key == "" {
				key = username
			}
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: finding user by email/username: %w", err)
	}
	return &u, nil
}

// SetRefreshToken overwrites the stored digest unconditionally. An empty
// digest stores NULL, which is how logout revokes the session.
func (db *DB) SetRefreshToken(ctx context.Context, userID, digest string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		digest, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting refresh token for %s: %w", userID, err)
	}
	return requireOneRow(res, "user", userID)
}

// RotateRefreshToken is a compare-and-swap on the refresh_token column.
//
// The WHERE clause includes the digest the caller validated. If another
// request rotated or cleared the token in between, the row no longer matches,
// zero rows are affected, and the caller learns it lost the race.
func (db *DB) RotateRefreshToken(ctx context.Context, userID, oldDigest, newDigest string) (bool, error) {
	if oldDigest == "" {
		return false, nil
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ?
		 WHERE id = ? AND refresh_token = ?`,
		newDigest, time.Now().UTC(), userID, oldDigest,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: rotating refresh token for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdatePassword stores a new bcrypt hash. The refresh token is left alone.
func (db *DB) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for %s: %w", userID, err)
	}
	return requireOneRow(res, "user", userID)
}

// requireOneRow turns "UPDATE matched nothing" into a NotFound error.
func requireOneRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
