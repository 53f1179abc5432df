// Package cache keeps the last applied record (sanitized) and recently
// reconstructed script bodies so a viewer can warm-start without a channel.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/record"
)

const schema = `CREATE TABLE IF NOT EXISTS records (
  slot TEXT PRIMARY KEY,
  record_json TEXT NOT NULL,
  signature TEXT NOT NULL DEFAULT '',
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bodies (
  hash TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  script_version INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);`

const (
	currentSlot = "current"
	// DefaultKeepBodies bounds the bodies table.
	DefaultKeepBodies = 16

	// fixed width so updated_at sorts lexically
	stampLayout = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	db        *sql.DB
	Threshold int
	Keep      int
	now       func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if tuningEnabled() {
		tune(ctx, db)
	}
	return &Store{
		db:        db,
		Threshold: record.DefaultSanitizeThreshold,
		Keep:      DefaultKeepBodies,
		now:       time.Now,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) String() string {
	return fmt.Sprintf("cache.Store{%p}", s.db)
}

// SaveRecord stores rec with large payload fields stripped.
func (s *Store) SaveRecord(ctx context.Context, rec core.ConfigRecord) error {
	clean := record.Sanitize(rec, s.Threshold)
	raw, err := json.Marshal(clean)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	const q = `INSERT INTO records (slot, record_json, signature, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET record_json=excluded.record_json, signature=excluded.signature, updated_at=excluded.updated_at;`
	_, err = s.db.ExecContext(ctx, q, currentSlot, string(raw), string(rec.Signature()), s.stamp())
	return errors.Wrap(err, "save record")
}

// LoadRecord returns the cached record; ok is false when none is stored.
func (s *Store) LoadRecord(ctx context.Context) (rec core.ConfigRecord, ok bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT record_json FROM records WHERE slot = ?;`, currentSlot).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, errors.Wrap(err, "load record")
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, false, errors.Wrap(err, "decode cached record")
	}
	return rec, true, nil
}

// PutBody remembers a reconstructed body under its hash.
func (s *Store) PutBody(ctx context.Context, hash string, version int64, text string) error {
	if hash == "" {
		return nil
	}
	const q = `INSERT INTO bodies (hash, text, script_version, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET text=excluded.text, script_version=excluded.script_version, updated_at=excluded.updated_at;`
	if _, err := s.db.ExecContext(ctx, q, hash, text, version, s.stamp()); err != nil {
		return errors.Wrap(err, "put body")
	}
	_, err := pruneBodies(ctx, s.db, s.keep())
	return err
}

// BodyByHash returns the body stored under hash.
func (s *Store) BodyByHash(ctx context.Context, hash string) (string, bool, error) {
	if hash == "" {
		return "", false, nil
	}
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM bodies WHERE hash = ?;`, hash).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "body by hash")
	}
	return text, true, nil
}

// LastBody returns the most recently stored body.
func (s *Store) LastBody(ctx context.Context) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM bodies ORDER BY updated_at DESC, script_version DESC LIMIT 1;`).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "last body")
	}
	return text, true, nil
}

func (s *Store) keep() int {
	if s.Keep <= 0 {
		return DefaultKeepBodies
	}
	return s.Keep
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(stampLayout)
}
