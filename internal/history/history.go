// Package history persists mesh message traffic to a SQLite database
// (WAL mode). The partner keeps only a small in-memory ring; history is
// where the full record lives.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/oddforge/wristlink/internal/wire"
)

// Direction marks which way a message travelled.
const (
	DirectionReceived = "rx"
	DirectionSent     = "tx"
)

// Entry is one stored message, either direction.
type Entry struct {
	ID        int64
	Direction string
	MeshID    uint32
	FromID    string
	FromName  string
	ToID      string
	Text      string
	Channel   uint8
	RSSI      int8
	StoredAt  time.Time
}

// Store wraps the SQLite handle with domain helpers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode
// and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendReceived stores a message that arrived from the mesh.
func (s *Store) AppendReceived(msg wire.MeshMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (direction, mesh_id, from_node, from_name, to_node, text, channel, rssi, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		DirectionReceived, msg.ID, msg.FromID, msg.FromName, msg.ToID,
		msg.Text, msg.Channel, msg.RSSI, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: append received: %w", err)
	}
	return nil
}

// AppendSent stores a message queued for mesh transmission.
func (s *Store) AppendSent(req wire.MeshSendRequest) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (direction, mesh_id, from_node, from_name, to_node, text, channel, rssi, stored_at)
		VALUES (?, ?, '', '', ?, ?, ?, 0, ?)`,
		DirectionSent, req.Seq, req.To, req.Text, req.Channel, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: append sent: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, direction, mesh_id, from_node, from_name, to_node, text, channel, rssi, stored_at
		FROM messages ORDER BY stored_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			storedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Direction, &e.MeshID, &e.FromID,
			&e.FromName, &e.ToID, &e.Text, &e.Channel, &e.RSSI, &storedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.StoredAt = time.UnixMilli(storedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByDirection returns how many entries are stored for a direction.
func (s *Store) CountByDirection(direction string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE direction = ?`, direction).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than the cutoff, returning how many went.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE stored_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) migrate() error {
	// idempotent (IF NOT EXISTS everywhere)
	if _, err := s.db.Exec(ddlMessages); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    direction TEXT    NOT NULL,            -- 'rx' | 'tx'
    mesh_id   INTEGER NOT NULL DEFAULT 0,  -- packet ID (rx) or send seq (tx)
    from_node TEXT    NOT NULL DEFAULT '',
    from_name TEXT    NOT NULL DEFAULT '',
    to_node   TEXT    NOT NULL DEFAULT '',
    text      TEXT    NOT NULL,
    channel   INTEGER NOT NULL DEFAULT 0,
    rssi      INTEGER NOT NULL DEFAULT 0,
    stored_at INTEGER NOT NULL             -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_messages_stored_at ON messages (stored_at DESC);
`
