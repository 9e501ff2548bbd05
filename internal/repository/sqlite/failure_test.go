package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/model"
)

// Database failures are hard to provoke with a real SQLite file, so these
// tests swap the driver for go-sqlmock and check that driver errors are
// wrapped, not mistaken for "not found" or "conflict".

var errDiskIO = errors.New("disk I/O error")

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newFromConn(sqlx.NewDb(conn, "sqlmock")), mock
}

func TestGetUserByID_DriverError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \?`).
		WithArgs("u1").
		WillReturnError(errDiskIO)

	_, err := db.GetUserByID(context.Background(), "u1")

	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskIO)
	assert.False(t, errors.Is(err, apperror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_DriverErrorIsNotConflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(errDiskIO)

	err := db.CreateUser(context.Background(), &model.User{Username: "chai"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskIO)
	assert.False(t, errors.Is(err, apperror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshToken_DriverError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE users SET refresh_token = \?`).WillReturnError(errDiskIO)

	ok, err := db.RotateRefreshToken(context.Background(), "u1", "old", "new")

	assert.False(t, ok)
	assert.ErrorIs(t, err, errDiskIO)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshToken_EmptyOldDigestNeverMatches(t *testing.T) {
	db, mock := newMockDB(t)

	ok, err := db.RotateRefreshToken(context.Background(), "u1", "", "new")

	assert.False(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement should be issued")
}

func TestGetChannelProfile_DriverError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT u\.id, .* FROM users AS u WHERE u\.username = \?`).
		WithArgs("viewer", "chai").
		WillReturnError(errDiskIO)

	_, err := db.GetChannelProfile(context.Background(), "chai", "viewer")

	assert.ErrorIs(t, err, errDiskIO)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWatchHistory_DriverError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM watch_history AS h JOIN videos AS v`).
		WithArgs("u1").
		WillReturnError(errDiskIO)

	_, err := db.GetWatchHistory(context.Background(), "u1")

	assert.ErrorIs(t, err, errDiskIO)
	assert.NoError(t, mock.ExpectationsWereMet())
}
