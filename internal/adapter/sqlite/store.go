package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// ErrNotFound is returned by Load when no snapshot is stored for a coordinate.
var ErrNotFound = errors.New("no stored snapshot")

const schema = `
CREATE TABLE IF NOT EXISTS outlook_snapshots (
	coordinate            TEXT PRIMARY KEY,
	cycle_id              TEXT NOT NULL,
	freshness             TEXT NOT NULL,
	generated_at          TEXT NOT NULL,
	last_successful_cycle TEXT NOT NULL,
	payload               TEXT NOT NULL
)`

const upsert = `
INSERT INTO outlook_snapshots (coordinate, cycle_id, freshness, generated_at, last_successful_cycle, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (coordinate) DO UPDATE SET
	cycle_id              = excluded.cycle_id,
	freshness             = excluded.freshness,
	generated_at          = excluded.generated_at,
	last_successful_cycle = excluded.last_successful_cycle,
	payload               = excluded.payload`

// Store persists the latest published snapshot per coordinate.
// It implements pipeline.SnapshotSink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// dsn applies the pragmas on every connection the pool opens.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// PublishSnapshot replaces the stored snapshot for the snapshot's coordinate.
func (s *Store) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsert,
		snap.Coordinate.String(),
		snap.CycleID,
		string(snap.Freshness),
		snap.GeneratedAt.UTC().Format(time.RFC3339Nano),
		snap.LastSuccessfulCycle.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", snap.CycleID, err)
	}
	return nil
}

// Load returns the stored snapshot for coord, or ErrNotFound.
func (s *Store) Load(ctx context.Context, coord domain.Coordinate) (domain.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM outlook_snapshots WHERE coordinate = ?`, coord.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, fmt.Errorf("coordinate %s: %w", coord, ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode stored snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
