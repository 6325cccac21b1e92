// internal/store/sqlite.go

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/petervdpas/tuneroom/internal/room"
)

// SQLiteStore persists one JSON document per room.
type SQLiteStore struct {
	*core

	db   *sql.DB
	path string
}

// OpenSQLite opens or creates rooms.db in dataDir.
func OpenSQLite(dataDir string, opts Options) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "rooms.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			doc        TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create rooms table: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	s.core = newCore(s, opts)
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) load(ctx context.Context, roomID string) (room.State, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM rooms WHERE id = ?`, roomID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return room.State{}, false, nil
	}
	if err != nil {
		return room.State{}, false, fmt.Errorf("sqlite: load %s: %w", roomID, err)
	}
	var st room.State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return room.State{}, false, fmt.Errorf("sqlite: decode %s: %w", roomID, err)
	}
	return st, true, nil
}

func (s *SQLiteStore) cas(ctx context.Context, prev uint64, next room.State) (bool, error) {
	b, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("sqlite: encode %s: %w", next.RoomID, err)
	}

	var res sql.Result
	if prev == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO rooms (id, version, doc, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			next.RoomID, next.Version, string(b), next.UpdatedAtMs)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE rooms SET version = ?, doc = ?, updated_at = ? WHERE id = ? AND version = ?`,
			next.Version, string(b), next.UpdatedAtMs, next.RoomID, prev)
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: store %s: %w", next.RoomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: store %s: %w", next.RoomID, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", roomID, err)
	}
	s.fan.reset(roomID)
	return nil
}

func (s *SQLiteStore) DeleteIf(ctx context.Context, roomID string, version uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ? AND version = ?`, roomID, version)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete %s: %w", roomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: delete %s: %w", roomID, err)
	}
	if n == 0 {
		return false, nil
	}
	s.fan.reset(roomID)
	return true, nil
}

func (s *SQLiteStore) Rooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rooms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
