// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C compiler, and
// cross-compilation keeps working. The blank import registers the driver
// under the name "sqlite".
//
// WHY sqlx ON TOP OF database/sql?
// sqlx keeps the database/sql model (pool, contexts, placeholders) but scans
// rows straight into structs using the `db:"..."` tags on the model types,
// which removes the long Scan(&a, &b, &c...) lists.
//
// TABLES:
//
//	users          one row per account; username/email UNIQUE
//	subscriptions  (subscriber_id, channel_id) edges
//	videos         owned by a user
//	watch_history  (user_id, position) -> video_id, append-only
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sqlx connection pool and provides repository methods.
type DB struct {
	conn *sqlx.DB
	sb   sq.StatementBuilderType
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/videotube.db" → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests)
//
// Foreign keys and the busy timeout are per-connection settings in SQLite, so
// they are passed as _pragma DSN parameters and applied to every pooled
// connection, not just the first one.
func New(dbPath string) (*DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate, empty database. Pinning
	// the pool to one connection keeps tests looking at the same data.
	if strings.HasPrefix(dbPath, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := newFromConn(conn)
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// newFromConn wraps an already-open pool. Tests use it with go-sqlmock.
func newFromConn(conn *sqlx.DB) *DB {
	return &DB{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent, so it is safe
// to run on each start and from the `migrate` command.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE,
				email         TEXT NOT NULL UNIQUE,
				fullname      TEXT NOT NULL,
				avatar        TEXT NOT NULL,
				cover_image   TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				refresh_token TEXT,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"subscriptions", `
			CREATE TABLE IF NOT EXISTS subscriptions (
				subscriber_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				channel_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (subscriber_id, channel_id)
			);
			CREATE INDEX IF NOT EXISTS idx_subscriptions_channel ON subscriptions(channel_id);`},
		{"videos", `
			CREATE TABLE IF NOT EXISTS videos (
				id           TEXT PRIMARY KEY,
				video_file   TEXT NOT NULL,
				thumbnail    TEXT NOT NULL,
				title        TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				duration     REAL NOT NULL DEFAULT 0,
				views        INTEGER NOT NULL DEFAULT 0,
				is_published BOOLEAN NOT NULL DEFAULT 1,
				owner_id     TEXT REFERENCES users(id) ON DELETE SET NULL,
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner_id);`},
		{"watch_history", `
			CREATE TABLE IF NOT EXISTS watch_history (
				user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				position   INTEGER NOT NULL,
				video_id   TEXT NOT NULL,
				watched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_id, position)
			);`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", step.name, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
