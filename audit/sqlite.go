package audit

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS participants (
    identity   TEXT    NOT NULL,
    address    TEXT    NOT NULL,
    first_seen INTEGER NOT NULL,
    last_seen  INTEGER NOT NULL,
    hits       INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (identity, address)
);
CREATE INDEX IF NOT EXISTS participants_address ON participants (address);
`

// SQLite persists participant records in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit db path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Record(identity, address string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	millis := at.UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (identity, address, first_seen, last_seen, hits)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (identity, address) DO UPDATE SET
			last_seen = excluded.last_seen,
			hits = participants.hits + 1
	`, identity, address, millis, millis)
	if err != nil {
		return fmt.Errorf("record participant %s: %w", identity, err)
	}
	return nil
}

// Participants lists every record for identity, most recently seen first.
func (s *SQLite) Participants(ctx context.Context, identity string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, address, first_seen, last_seen, hits
		FROM participants
		WHERE identity = ?
		ORDER BY last_seen DESC, address ASC
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var first, last int64
		if err := rows.Scan(&p.Identity, &p.Address, &first, &last, &p.Hits); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.FirstSeen = time.UnixMilli(first).UTC()
		p.LastSeen = time.UnixMilli(last).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
