// Package sqlite archives finished games in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/game"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store provides SQLite-backed persistence for finished games.
type Store struct {
	sqlDB *sql.DB
}

var _ game.Archive = (*Store)(nil)

// Open opens the archive at path and creates its tables when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordGame stores a finished game.
func (s *Store) RecordGame(ctx context.Context, r game.Result) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	standings, err := json.Marshal(r.Standings)
	if err != nil {
		return fmt.Errorf("encode standings: %w", err)
	}
	rounds, err := json.Marshal(r.Rounds)
	if err != nil {
		return fmt.Errorf("encode rounds: %w", err)
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	winner, _ := r.Winner()

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO games (
		    id, session_id, number, pack, host_id, host_name, winner_name, winner_score,
		    player_count, standings_json, rounds_json, started_at, ended_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		r.ID,
		r.Number,
		r.Pack,
		string(r.Host.ID),
		r.Host.Name,
		winner.Name,
		winner.Score,
		len(r.Standings),
		string(standings),
		string(rounds),
		r.StartedAt.UTC().UnixMilli(),
		r.EndedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record game: %w", err)
	}
	return nil
}

// CountGames returns how many games have been archived.
func (s *Store) CountGames(ctx context.Context) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

// RecentGames returns up to limit archived games, newest first.
func (s *Store) RecentGames(ctx context.Context, limit int) ([]game.Result, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT session_id, number, pack, host_id, host_name, standings_json, rounds_json, started_at, ended_at
		 FROM games
		 ORDER BY ended_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []game.Result
	for rows.Next() {
		var (
			r                 game.Result
			hostID            string
			standings, rounds string
			startedAt         int64
			endedAt           int64
		)
		if err := rows.Scan(&r.ID, &r.Number, &r.Pack, &hostID, &r.Host.Name, &standings, &rounds, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		r.Host.ID = chat.UserID(hostID)
		if err := json.Unmarshal([]byte(standings), &r.Standings); err != nil {
			return nil, fmt.Errorf("decode standings: %w", err)
		}
		if err := json.Unmarshal([]byte(rounds), &r.Rounds); err != nil {
			return nil, fmt.Errorf("decode rounds: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		r.EndedAt = time.UnixMilli(endedAt).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return out, nil
}
