// Package store provides the SQLite-backed metadata store for nvdsync.
//
// The store holds one row per importable shard with the last observed
// lastModifiedDate, the opaque descriptor fields, and the needs_update flag
// that drives the two sync phases:
//
//	needs_update = 0  CURRENT  local payload matches last_modified
//	needs_update = 1  STALE    newer last_modified seen, payload pending
//
// Every mutating call runs in its own transaction and commits before
// returning, so a crash mid-run loses at most the in-flight shard.
//
// The database runs in embedded mode through ncruces/go-sqlite3 with WAL
// and immediate transaction locking.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nvdmirror/nvdsync/internal/feed"
)

const openMaxElapsed = 30 * time.Second

func newOpenBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	return bo
}

// Store wraps the SQLite connection holding shard records.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
//
// Opening retries while another process holds the database locked. The
// caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open("db/nvd-metadata.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext opens the database with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(wal)" +
		"&_txlock=immediate"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = backoff.Retry(func() error {
		err := conn.PingContext(ctx)
		if err != nil && errors.Is(err, sqlite3.BUSY) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newOpenBackoff(), ctx))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the shards table if it doesn't exist and imports rows
// from a legacy meta table when one is present. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS shards (
		name TEXT PRIMARY KEY,
		last_modified TEXT NOT NULL,
		file_size TEXT NOT NULL DEFAULT '',
		zip_size TEXT NOT NULL DEFAULT '',
		gz_size TEXT NOT NULL DEFAULT '',
		sha256 TEXT NOT NULL DEFAULT '',
		needs_update INTEGER NOT NULL DEFAULT 0 CHECK (needs_update IN (0, 1)),
		checked_at TEXT,
		imported_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_shards_needs_update ON shards(needs_update, name);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s.migrateLegacyMeta(ctx)
}

// migrateLegacyMeta copies rows from the meta table written by the older
// tooling (importable, last_modified_date, ...) into shards. Existing shard
// rows win, so running it again is a no-op. The meta table is left in place.
func (s *Store) migrateLegacyMeta(ctx context.Context) error {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check for legacy meta table: %w", err)
	}
	if count == 0 {
		return nil
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT OR IGNORE INTO shards
		(name, last_modified, file_size, zip_size, gz_size, sha256, needs_update)
	SELECT
		trim(importable),
		trim(last_modified_date),
		trim(COALESCE(file_size, '')),
		trim(COALESCE(zip_size, '')),
		trim(COALESCE(gz_size, '')),
		trim(COALESCE(sha256, '')),
		CASE WHEN needs_update = 1 THEN 1 ELSE 0 END
	FROM meta
	WHERE importable IS NOT NULL AND trim(importable) != ''
		AND last_modified_date IS NOT NULL AND trim(last_modified_date) != ''`)
	if err != nil {
		return fmt.Errorf("failed to migrate legacy meta table: %w", err)
	}
	return nil
}

// List returns the names of shards in the given state, sorted by name.
func (s *Store) List(state State) ([]string, error) {
	return s.ListContext(context.Background(), state)
}

// ListContext returns shard names in state with context support.
func (s *Store) ListContext(ctx context.Context, state State) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT name FROM shards WHERE needs_update = ? ORDER BY name ASC`, int(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s shards: %w", state, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan shard name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shards: %w", err)
	}
	return names, nil
}

// GetLastModified returns the stored lastModifiedDate for a shard.
// Returns ErrNotFound if the shard is unknown.
func (s *Store) GetLastModified(name string) (time.Time, error) {
	return s.GetLastModifiedContext(context.Background(), name)
}

// GetLastModifiedContext returns the stored timestamp with context support.
func (s *Store) GetLastModifiedContext(ctx context.Context, name string) (time.Time, error) {
	return lastModified(ctx, s.conn, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastModified(ctx context.Context, q queryer, name string) (time.Time, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT last_modified FROM shards WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last_modified for %s: %w", name, err)
	}

	ts, err := feed.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored last_modified for %s: %w", name, err)
	}
	return ts, nil
}

// MarkStale flags a shard for update and advances its lastModifiedDate.
//
// Returns ErrNotFound if the shard is unknown, and ErrStaleWrite if ts is
// not strictly newer than the stored value. The record is unchanged on error.
func (s *Store) MarkStale(name string, ts time.Time) error {
	return s.MarkStaleContext(context.Background(), name, ts)
}

// MarkStaleContext flags a shard for update with context support.
func (s *Store) MarkStaleContext(ctx context.Context, name string, ts time.Time) error {
	return s.markStale(ctx, name, ts, nil)
}

// MarkStaleWith is MarkStale that also refreshes the opaque descriptor
// fields (sizes and sha256) from d.
func (s *Store) MarkStaleWith(d *feed.Descriptor) error {
	return s.MarkStaleWithContext(context.Background(), d)
}

// MarkStaleWithContext is MarkStaleWith with context support.
func (s *Store) MarkStaleWithContext(ctx context.Context, d *feed.Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor cannot be nil")
	}
	return s.markStale(ctx, d.Name, d.LastModified, d)
}

func (s *Store) markStale(ctx context.Context, name string, ts time.Time, d *feed.Descriptor) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := lastModified(ctx, tx, name)
	if err != nil {
		return err
	}

	newer, err := feed.IsStale(ts, stored)
	if err != nil {
		return fmt.Errorf("failed to compare timestamps for %s: %w", name, err)
	}
	if !newer {
		return fmt.Errorf("%w: %s has %s, got %s", ErrStaleWrite, name,
			feed.FormatTimestamp(stored), feed.FormatTimestamp(ts))
	}

	if d != nil {
		_, err = tx.ExecContext(ctx, `
		UPDATE shards SET
			needs_update = 1,
			last_modified = ?,
			file_size = ?,
			zip_size = ?,
			gz_size = ?,
			sha256 = ?,
			checked_at = ?
		WHERE name = ?`,
			feed.FormatTimestamp(ts), d.Size, d.ZipSize, d.GzSize, d.SHA256,
			nowString(), name)
	} else {
		_, err = tx.ExecContext(ctx, `
		UPDATE shards SET needs_update = 1, last_modified = ?, checked_at = ?
		WHERE name = ?`,
			feed.FormatTimestamp(ts), nowString(), name)
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s stale: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkCurrent clears the needs_update flag after a successful import.
// Returns ErrNotFound if the shard is unknown.
func (s *Store) MarkCurrent(name string) error {
	return s.MarkCurrentContext(context.Background(), name)
}

// MarkCurrentContext clears the needs_update flag with context support.
func (s *Store) MarkCurrentContext(ctx context.Context, name string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE shards SET needs_update = 0, imported_at = ? WHERE name = ?`,
		nowString(), name)
	if err != nil {
		return fmt.Errorf("failed to mark %s current: %w", name, err)
	}
	return requireRow(res, name)
}

// TouchChecked records that a shard's descriptor was checked and found
// unchanged. It never changes state or last_modified.
func (s *Store) TouchChecked(name string) error {
	return s.TouchCheckedContext(context.Background(), name)
}

// TouchCheckedContext records a check with context support.
func (s *Store) TouchCheckedContext(ctx context.Context, name string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE shards SET checked_at = ? WHERE name = ?`, nowString(), name)
	if err != nil {
		return fmt.Errorf("failed to record check for %s: %w", name, err)
	}
	return requireRow(res, name)
}

// Insert creates a CURRENT record for a newly observed shard. Existing
// records are never overwritten; created reports whether a row was added.
func (s *Store) Insert(shard *Shard) (created bool, err error) {
	return s.InsertContext(context.Background(), shard)
}

// InsertContext creates a record with context support.
func (s *Store) InsertContext(ctx context.Context, shard *Shard) (bool, error) {
	if err := shard.Validate(); err != nil {
		return false, fmt.Errorf("invalid shard: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO shards (name, last_modified, file_size, zip_size, gz_size, sha256, needs_update)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO NOTHING`,
		shard.Name,
		feed.FormatTimestamp(shard.LastModified),
		shard.FileSize,
		shard.ZipSize,
		shard.GzSize,
		shard.SHA256,
		int(shard.State),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert shard %s: %w", shard.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

const shardColumns = `name, last_modified, file_size, zip_size, gz_size, sha256,
	needs_update, checked_at, imported_at`

// Get returns a single shard record. Returns ErrNotFound if unknown.
func (s *Store) Get(name string) (*Shard, error) {
	return s.GetContext(context.Background(), name)
}

// GetContext returns a single shard record with context support.
func (s *Store) GetContext(ctx context.Context, name string) (*Shard, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+shardColumns+` FROM shards WHERE name = ?`, name)

	shard, err := scanShard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return shard, nil
}

// All returns every shard record ordered by name.
func (s *Store) All() ([]*Shard, error) {
	return s.AllContext(context.Background())
}

// AllContext returns every shard record with context support.
func (s *Store) AllContext(ctx context.Context) ([]*Shard, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+shardColumns+` FROM shards ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shards: %w", err)
	}
	defer rows.Close()

	var shards []*Shard
	for rows.Next() {
		shard, err := scanShard(rows)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shards: %w", err)
	}
	return shards, nil
}

// Counts returns the number of shards in each state.
func (s *Store) Counts() (map[State]int, error) {
	return s.CountsContext(context.Background())
}

// CountsContext returns per-state counts with context support.
func (s *Store) CountsContext(ctx context.Context) (map[State]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT needs_update, COUNT(*) FROM shards GROUP BY needs_update`)
	if err != nil {
		return nil, fmt.Errorf("failed to count shards: %w", err)
	}
	defer rows.Close()

	counts := map[State]int{Current: 0, Stale: 0}
	for rows.Next() {
		var state, n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShard(row scanner) (*Shard, error) {
	var shard Shard
	var lastModified string
	var state int
	var checkedAt, importedAt sql.NullString

	err := row.Scan(
		&shard.Name,
		&lastModified,
		&shard.FileSize,
		&shard.ZipSize,
		&shard.GzSize,
		&shard.SHA256,
		&state,
		&checkedAt,
		&importedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shard: %w", err)
	}

	ts, err := feed.ParseTimestamp(lastModified)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored last_modified for %s: %w", shard.Name, err)
	}
	shard.LastModified = ts
	shard.State = State(state)
	shard.CheckedAt = nullStringToTime(checkedAt)
	shard.ImportedAt = nullStringToTime(importedAt)

	return &shard, nil
}

func requireRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
