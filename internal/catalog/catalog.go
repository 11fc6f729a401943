// Package catalog persists per-shard fetch state (ETag and last-update
// time) across builder runs in a single-file SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
)

// Error is the error class for this package.
var Error = errs.Class("catalog")

const schema = `
CREATE TABLE IF NOT EXISTS shards (
	id INTEGER PRIMARY KEY,
	etag TEXT,
	updated_at INTEGER
)`

// ShardRecord is a catalog entry for one shard ID.
type ShardRecord struct {
	ID        uint32
	ETag      string
	UpdatedAt time.Time
}

// Catalog is a durable key-value store keyed by shard ID.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path, applying the schema
// if it is new. The scheduler goroutine (Get) and the dedicated inserter
// goroutine (Upsert) hit this file concurrently for the life of a build, so
// the connection is opened in WAL mode with a busy timeout rather than
// SQLite's default (immediate, zero-wait "database is locked" failures
// under any reader+writer contention) — if WAL can't be enabled (e.g. the
// filesystem doesn't support it), fall back to a single connection so
// writes are serialized in-process instead of failing at the driver.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=10000&_journal=WAL")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, Error.Wrap(err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, Error.Wrap(err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		db.Close()
		return nil, Error.Wrap(err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		db.SetMaxOpenConns(1)
	}

	var readOnly int
	if err := db.QueryRow("PRAGMA query_only").Scan(&readOnly); err == nil && readOnly == 1 {
		db.Close()
		return nil, Error.New("database %s is opened read-only", path)
	}

	return &Catalog{db: db}, nil
}

// Get returns the stored record for id, or nil if no record exists.
func (c *Catalog) Get(ctx context.Context, id uint32) (*ShardRecord, error) {
	row := c.db.QueryRowContext(ctx, "SELECT id, etag, updated_at FROM shards WHERE id = ?", id)

	var rec ShardRecord
	var etag sql.NullString
	var updatedAt int64
	err := row.Scan(&rec.ID, &etag, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	rec.ETag = etag.String
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}

// Upsert atomically records id's latest etag and updated_at. A 304 response
// preserves the prior etag; callers pass the etag they want retained.
func (c *Catalog) Upsert(ctx context.Context, id uint32, etag string, updatedAt time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO shards (id, etag, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET etag = excluded.etag, updated_at = excluded.updated_at
	`, id, etag, updatedAt.Unix())
	if err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return Error.Wrap(c.db.Close())
}
