package hardware

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/telltale/internal/prop"
)

// SQLiteStore is a ValueStore persisted to a SQLite file, so a simulated
// vehicle keeps its property values across daemon restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the value database at path and
// ensures the table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS prop_values (
  prop       INTEGER NOT NULL,
  area       INTEGER NOT NULL,
  payload    JSON NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (prop, area)
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the stored value for (propID, area).
func (s *SQLiteStore) Load(propID, area int32) (prop.Value, bool, error) {
	var (
		payload   []byte
		updatedAt int64
	)
	err := s.db.QueryRow(
		`SELECT payload, updated_at FROM prop_values WHERE prop = ? AND area = ?`,
		propID, area,
	).Scan(&payload, &updatedAt)
	if err == sql.ErrNoRows {
		return prop.Value{}, false, nil
	}
	if err != nil {
		return prop.Value{}, false, fmt.Errorf("load value 0x%x/%d: %w", uint32(propID), area, err)
	}

	var p prop.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return prop.Value{}, false, fmt.Errorf("decode stored payload 0x%x/%d: %w", uint32(propID), area, err)
	}
	return prop.Value{Prop: propID, Area: area, Payload: p, Timestamp: updatedAt}, true, nil
}

// Save upserts v under its (property, area) key.
func (s *SQLiteStore) Save(v prop.Value) error {
	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return fmt.Errorf("encode payload 0x%x/%d: %w", uint32(v.Prop), v.Area, err)
	}
	ts := v.Timestamp
	if ts == 0 {
		ts = time.Now().UnixNano()
	}

	_, err = s.db.Exec(
		`INSERT INTO prop_values (prop, area, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (prop, area) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		v.Prop, v.Area, payload, ts,
	)
	if err != nil {
		return fmt.Errorf("save value 0x%x/%d: %w", uint32(v.Prop), v.Area, err)
	}
	return nil
}

// All returns every stored value.
func (s *SQLiteStore) All() ([]prop.Value, error) {
	rows, err := s.db.Query(`SELECT prop, area, payload, updated_at FROM prop_values`)
	if err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	defer rows.Close()

	var out []prop.Value
	for rows.Next() {
		var (
			propID, area int32
			payload      []byte
			updatedAt    int64
		)
		if err := rows.Scan(&propID, &area, &payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan value row: %w", err)
		}
		var p prop.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode stored payload 0x%x/%d: %w", uint32(propID), area, err)
		}
		out = append(out, prop.Value{Prop: propID, Area: area, Payload: p, Timestamp: updatedAt})
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
