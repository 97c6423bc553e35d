package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Item states recorded in statistics rows.
const (
	StateAcquired    = "acquired"
	StateTransformed = "transformed"
	StatePublished   = "published"
	StateFailed      = "failed"
)

// ArtifactMetadata captures what the transform stage learned about an item.
type ArtifactMetadata struct {
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ContentType     string  `json:"content_type,omitempty"`
}

// Store manages history persistence backed by SQLite. A single store
// serializes dedup reads and stage writes for the whole process.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsProcessed reports whether (group, id) has already gone through the
// pipeline. The acquire-admission dedup gate calls this before queueing.
func (s *Store) IsProcessed(ctx context.Context, group, id string) (bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM processed WHERE group_key = ? AND item_id = ?`,
		group, id,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("query processed: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed records (group, id) in the dedup ledger.
func (s *Store) MarkProcessed(ctx context.Context, group, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO processed (group_key, item_id, processed_at) VALUES (?, ?, ?)`,
		group, id, timestamp(),
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// MarkAcquired records a successful acquisition for the source locator.
func (s *Store) MarkAcquired(ctx context.Context, source string) error {
	return s.upsertState(ctx, source, StateAcquired, "", "")
}

// MarkTransformed records transform output metadata for the source locator.
func (s *Store) MarkTransformed(ctx context.Context, source string, meta ArtifactMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}
	return s.upsertState(ctx, source, StateTransformed, string(data), "")
}

// MarkPublished records a successful publish for the source locator.
func (s *Store) MarkPublished(ctx context.Context, source string) error {
	return s.upsertState(ctx, source, StatePublished, "", "")
}

// MarkFailed records a terminal failure with its reason.
func (s *Store) MarkFailed(ctx context.Context, source, reason string) error {
	return s.upsertState(ctx, source, StateFailed, "", reason)
}

func (s *Store) upsertState(ctx context.Context, source, state, metadataJSON, reason string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO item_stats (source, state, metadata_json, reason, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(source) DO UPDATE SET
             state = excluded.state,
             metadata_json = CASE WHEN excluded.metadata_json != '' THEN excluded.metadata_json ELSE item_stats.metadata_json END,
             reason = excluded.reason,
             updated_at = excluded.updated_at`,
		source, state, metadataJSON, reason, timestamp(),
	)
	if err != nil {
		return fmt.Errorf("record item state %s: %w", state, err)
	}
	return nil
}

// ItemState returns the last recorded state and reason for a source, or
// empty strings when the source was never seen.
func (s *Store) ItemState(ctx context.Context, source string) (state, reason string, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT state, reason FROM item_stats WHERE source = ?`, source)
	var st, rs sql.NullString
	if scanErr := row.Scan(&st, &rs); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("query item state: %w", scanErr)
	}
	return st.String, rs.String, nil
}

// Stats returns item counts grouped by recorded state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM item_stats GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// ModuleEnabled returns the persisted enable flag for a module. The second
// return reports whether any flag was persisted at all.
func (s *Store) ModuleEnabled(ctx context.Context, name string) (bool, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT enabled FROM module_state WHERE name = ?`, name)
	var enabled int
	if err := row.Scan(&enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("query module state: %w", err)
	}
	return enabled != 0, true, nil
}

// SetModuleEnabled persists a module enable flag across restarts.
func (s *Store) SetModuleEnabled(ctx context.Context, name string, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO module_state (name, enabled, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		name, value, timestamp(),
	)
	if err != nil {
		return fmt.Errorf("persist module state: %w", err)
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
