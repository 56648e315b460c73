package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"ludo/internal/game"
)

// Store handles SQLite persistence of match documents and the coin ledger.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS matches (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			settled    INTEGER NOT NULL DEFAULT 0,
			version    INTEGER NOT NULL,
			document   TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS matches_status ON matches(status, settled);
		CREATE TABLE IF NOT EXISTS wallets (
			player_id TEXT PRIMARY KEY,
			coins     INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			ref         TEXT NOT NULL UNIQUE,
			player_id   TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS transactions_player ON transactions(player_id);
		CREATE TABLE IF NOT EXISTS player_stats (
			player_id    TEXT PRIMARY KEY,
			games_played INTEGER NOT NULL DEFAULT 0,
			wins         INTEGER NOT NULL DEFAULT 0,
			losses       INTEGER NOT NULL DEFAULT 0,
			net_coins    INTEGER NOT NULL DEFAULT 0,
			rating       INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS stat_updates (
			ref       TEXT PRIMARY KEY,
			player_id TEXT NOT NULL
		);
	`)
	return err
}

// CreateMatch inserts a new match document at version 1.
func (s *Store) CreateMatch(ctx context.Context, m *game.Match) error {
	doc := m.Clone()
	doc.Version = 1
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, status, settled, version, document)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, string(m.Status), m.Settled, string(data))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: match %s already exists", game.ErrInvalidMatch, m.ID)
	}
	m.Version = 1
	return nil
}

// GetMatch retrieves a match document.
func (s *Store) GetMatch(ctx context.Context, id string) (*game.Match, error) {
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, "SELECT document, version FROM matches WHERE id = ?", id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(doc, version)
}

// UpdateMatch writes m only if the stored version still equals m.Version.
// On success m.Version is advanced to the new stored version.
func (s *Store) UpdateMatch(ctx context.Context, m *game.Match) error {
	doc := m.Clone()
	doc.Version = m.Version + 1
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE matches
		SET document = ?, status = ?, settled = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, string(data), string(m.Status), m.Settled, m.ID, m.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM matches WHERE id = ?", m.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return game.ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		return game.ErrConcurrentModification
	}
	m.Version = doc.Version
	return nil
}

// ListMatches returns all matches with the given status (or all if status is empty).
func (s *Store) ListMatches(ctx context.Context, status game.Status) ([]*game.Match, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT document, version FROM matches ORDER BY created_at, id")
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT document, version FROM matches WHERE status = ? ORDER BY created_at, id", string(status))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*game.Match
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		m, err := decode(doc, version)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func decode(doc string, version int64) (*game.Match, error) {
	var m game.Match
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("unmarshal match: %w", err)
	}
	m.Version = version
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("match %s: %w", m.ID, err)
	}
	return &m, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
