package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ChannelRow represents a lobby channel in the database.
type ChannelRow struct {
	Name      string
	Status    string // "waiting", "playing", "finished"
	Seed      int64
	CreatedAt time.Time
}

// ResultRow is one player's final standing in a channel.
type ResultRow struct {
	Channel   string
	Player    string
	Score     int
	Rank      int
	CreatedAt time.Time
}

// HiScoreRow is an online high score.
type HiScoreRow struct {
	Name      string
	Score     int
	CreatedAt time.Time
}

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
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
		CREATE TABLE IF NOT EXISTS channels (
			name       TEXT PRIMARY KEY,
			status     TEXT NOT NULL DEFAULT 'waiting',
			seed       INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS results (
			channel    TEXT NOT NULL,
			player     TEXT NOT NULL,
			score      INTEGER NOT NULL,
			rank       INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS hiscores (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			score      INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS hiscores_score ON hiscores(score DESC);
	`)
	return err
}

// CreateChannel inserts a new channel.
func (s *Store) CreateChannel(name string, seed int64) error {
	_, err := s.db.Exec(
		"INSERT INTO channels (name, status, seed) VALUES (?, 'waiting', ?)",
		name, seed,
	)
	return err
}

// GetChannel retrieves a channel by name.
func (s *Store) GetChannel(name string) (*ChannelRow, error) {
	row := s.db.QueryRow("SELECT name, status, seed, created_at FROM channels WHERE name = ?", name)
	var cr ChannelRow
	if err := row.Scan(&cr.Name, &cr.Status, &cr.Seed, &cr.CreatedAt); err != nil {
		return nil, err
	}
	return &cr, nil
}

// UpdateChannelStatus changes a channel's status.
func (s *Store) UpdateChannelStatus(name, status string) error {
	_, err := s.db.Exec("UPDATE channels SET status = ? WHERE name = ?", status, name)
	return err
}

// ListChannels returns all channels with the given status (or all if status is empty).
func (s *Store) ListChannels(status string) ([]ChannelRow, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query("SELECT name, status, seed, created_at FROM channels ORDER BY created_at DESC, name")
	} else {
		rows, err = s.db.Query("SELECT name, status, seed, created_at FROM channels WHERE status = ? ORDER BY created_at DESC, name", status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []ChannelRow
	for rows.Next() {
		var cr ChannelRow
		if err := rows.Scan(&cr.Name, &cr.Status, &cr.Seed, &cr.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, cr)
	}
	return result, rows.Err()
}

// DeleteChannel removes a channel and its results.
func (s *Store) DeleteChannel(name string) error {
	_, err := s.db.Exec("DELETE FROM results WHERE channel = ?", name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("DELETE FROM channels WHERE name = ?", name)
	return err
}

// SaveResults records the final standings of a channel in one transaction.
func (s *Store) SaveResults(results []ResultRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range results {
		if _, err := tx.Exec(
			"INSERT INTO results (channel, player, score, rank) VALUES (?, ?, ?, ?)",
			r.Channel, r.Player, r.Score, r.Rank,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	return tx.Commit()
}

// ListResults returns a channel's standings, best rank first.
func (s *Store) ListResults(channel string) ([]ResultRow, error) {
	rows, err := s.db.Query(
		"SELECT channel, player, score, rank, created_at FROM results WHERE channel = ? ORDER BY rank, player",
		channel,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []ResultRow
	for rows.Next() {
		var r ResultRow
		if err := rows.Scan(&r.Channel, &r.Player, &r.Score, &r.Rank, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// AddHiScore records an online high score.
func (s *Store) AddHiScore(name string, score int) error {
	_, err := s.db.Exec("INSERT INTO hiscores (name, score) VALUES (?, ?)", name, score)
	return err
}

// TopHiScores returns the best limit scores. With unique set, each name
// appears once with its best score.
func (s *Store) TopHiScores(limit int, unique bool) ([]HiScoreRow, error) {
	query := "SELECT name, score, created_at FROM hiscores ORDER BY score DESC, created_at, id LIMIT ?"
	if unique {
		query = `SELECT name, MAX(score) AS best, MIN(created_at) FROM hiscores
			GROUP BY name ORDER BY best DESC, name LIMIT ?`
	}
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []HiScoreRow
	for rows.Next() {
		var r HiScoreRow
		var created any
		if err := rows.Scan(&r.Name, &r.Score, &created); err != nil {
			return nil, err
		}
		if t, ok := created.(time.Time); ok {
			r.CreatedAt = t
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
