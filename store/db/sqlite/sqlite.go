// Package sqlite implements the store driver on an embedded SQLite
// database. It is the only driver today; the engine is a single-user
// client and WAL mode covers its concurrency needs.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database at the profile's DSN.
//
// Connection settings:
// - busy_timeout guards against transient lock contention between the
//   session goroutine and the event fan-out.
// - WAL journal mode is the recommended mode and prevents most locking
//   issues for a local single-user file.
// - With the modernc.org/sqlite driver, each pragma must be prefixed
//   with `_pragma=`.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL for this workload.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	title_source TEXT NOT NULL DEFAULT 'default',
	row_status TEXT NOT NULL DEFAULT 'NORMAL',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	conversation_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_conversation_created
	ON message (conversation_id, created_ts);

CREATE TABLE IF NOT EXISTS user_setting (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_ts BIGINT NOT NULL
);
`

// Migrate creates the schema. The statements are idempotent, so running
// them on every start keeps dev and prod on the same path.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
