package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS run_state (
	key            TEXT PRIMARY KEY,
	version        INTEGER NOT NULL,
	schema_version INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	updated_at     TEXT NOT NULL
)`

// SQLiteStore keeps the record in a single-row SQLite table. The version
// check and the write happen in one statement, so concurrent processes
// sharing the database file observe conflicts instead of losing updates.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*RunState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM run_state WHERE key = ?`, Key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run state: %w", err)
	}
	return decode([]byte(payload))
}

func (s *SQLiteStore) Save(ctx context.Context, st *RunState) error {
	data, err := encode(st, st.Version+1)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	if st.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO run_state (key, version, schema_version, payload, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   version = excluded.version,
			   schema_version = excluded.schema_version,
			   payload = excluded.payload,
			   updated_at = excluded.updated_at
			 WHERE run_state.schema_version != ?`,
			Key, st.Version+1, SchemaVersion, string(data), now, SchemaVersion)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE run_state SET version = ?, schema_version = ?, payload = ?, updated_at = ?
			 WHERE key = ? AND version = ?`,
			st.Version+1, SchemaVersion, string(data), now, Key, st.Version)
	}
	if err != nil {
		return fmt.Errorf("write run state: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: expected stored version %d", ErrVersionConflict, st.Version)
	}

	st.SchemaVersion = SchemaVersion
	st.Version++
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_state WHERE key = ?`, Key); err != nil {
		return fmt.Errorf("delete run state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
