package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/edvart/lol-inhouse/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			summoner_name TEXT NOT NULL UNIQUE COLLATE NOCASE,
			game_name TEXT NOT NULL DEFAULT '',
			tag_line TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			custom_lp INTEGER NOT NULL DEFAULT 0,
			primary_lane TEXT NOT NULL DEFAULT 'fill',
			secondary_lane TEXT NOT NULL DEFAULT 'fill',
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS queue_players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id INTEGER NOT NULL DEFAULT 0,
			summoner_name TEXT NOT NULL UNIQUE COLLATE NOCASE,
			region TEXT NOT NULL DEFAULT '',
			custom_lp INTEGER NOT NULL DEFAULT 0,
			primary_lane TEXT NOT NULL,
			secondary_lane TEXT NOT NULL,
			acceptance_status INTEGER NOT NULL DEFAULT 0,
			join_time TIMESTAMP NOT NULL,
			queue_position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_join_time ON queue_players(join_time)`,
		`CREATE TABLE IF NOT EXISTS custom_matches (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			team1_players_json TEXT NOT NULL DEFAULT '[]',
			team2_players_json TEXT NOT NULL DEFAULT '[]',
			average_mmr_team1 REAL NOT NULL DEFAULT 0,
			average_mmr_team2 REAL NOT NULL DEFAULT 0,
			pick_ban_data_json TEXT,
			winner_team INTEGER,
			actual_winner INTEGER,
			actual_duration INTEGER,
			lp_changes_json TEXT,
			completed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON custom_matches(status)`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			summoner_name TEXT NOT NULL COLLATE NOCASE,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_push_summoner ON push_subscriptions(summoner_name)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertQueueEntry inserts or refreshes a queue row, resetting the
// acceptance status to idle.
func (s *SQLiteStore) UpsertQueueEntry(ctx context.Context, e *domain.QueueEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_players
			(player_id, summoner_name, region, custom_lp, primary_lane, secondary_lane, acceptance_status, join_time, queue_position)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(summoner_name) DO UPDATE SET
			primary_lane = excluded.primary_lane,
			secondary_lane = excluded.secondary_lane,
			acceptance_status = 0`,
		e.PlayerID, e.SummonerName, e.Region, e.CustomLP,
		e.PrimaryLane, e.SecondaryLane, e.JoinTime, e.QueuePosition,
	)
	return err
}

// RemoveFromQueue deletes the player's queue row.
func (s *SQLiteStore) RemoveFromQueue(ctx context.Context, summonerName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_players WHERE summoner_name = ? COLLATE NOCASE`, summonerName)
	return err
}

// ListQueue returns all queue entries ordered by join time.
func (s *SQLiteStore) ListQueue(ctx context.Context) ([]domain.QueueEntry, error) {
	var entries []domain.QueueEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT player_id, summoner_name, region, custom_lp, primary_lane, secondary_lane,
			acceptance_status, join_time, queue_position
		 FROM queue_players ORDER BY join_time`)
	return entries, err
}

// ListIdleQueue returns entries not bound to a pending acceptance.
func (s *SQLiteStore) ListIdleQueue(ctx context.Context) ([]domain.QueueEntry, error) {
	var entries []domain.QueueEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT player_id, summoner_name, region, custom_lp, primary_lane, secondary_lane,
			acceptance_status, join_time, queue_position
		 FROM queue_players WHERE acceptance_status = 0 ORDER BY join_time`)
	return entries, err
}

// SetAcceptanceStatus updates the acceptance status for the given players.
func (s *SQLiteStore) SetAcceptanceStatus(ctx context.Context, summonerNames []string, status int) error {
	if len(summonerNames) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE queue_players SET acceptance_status = ? WHERE summoner_name COLLATE NOCASE IN (?)`,
		status, summonerNames)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// InQueue reports whether the player has a queue row.
func (s *SQLiteStore) InQueue(ctx context.Context, summonerName string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM queue_players WHERE summoner_name = ? COLLATE NOCASE`, summonerName)
	return n > 0, err
}

// matchRow mirrors the custom_matches columns.
type matchRow struct {
	ID          string          `db:"id"`
	Status      string          `db:"status"`
	Team1JSON   string          `db:"team1_players_json"`
	Team2JSON   string          `db:"team2_players_json"`
	AvgMMR1     float64         `db:"average_mmr_team1"`
	AvgMMR2     float64         `db:"average_mmr_team2"`
	PickBanJSON sql.NullString  `db:"pick_ban_data_json"`
	WinnerTeam  sql.NullInt64   `db:"winner_team"`
	Duration    sql.NullInt64   `db:"actual_duration"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// CreateMatch inserts the match row with its roster JSON.
func (s *SQLiteStore) CreateMatch(ctx context.Context, m *domain.Match) error {
	team1, err := json.Marshal(m.Team1)
	if err != nil {
		return err
	}
	team2, err := json.Marshal(m.Team2)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO custom_matches
			(id, status, team1_players_json, team2_players_json, average_mmr_team1, average_mmr_team2,
			 pick_ban_data_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Status, string(team1), string(team2), m.AverageMMR1, m.AverageMMR2,
		nullableJSON(m.PickBanData), now, now,
	)
	return err
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// GetMatch loads a match row, or nil when absent.
func (s *SQLiteStore) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	var row matchRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, status, team1_players_json, team2_players_json,
			average_mmr_team1, average_mmr_team2, pick_ban_data_json,
			winner_team, actual_duration, created_at, updated_at
		 FROM custom_matches WHERE id = ?`, matchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m := &domain.Match{
		ID:          row.ID,
		Status:      row.Status,
		AverageMMR1: row.AvgMMR1,
		AverageMMR2: row.AvgMMR2,
		WinnerTeam:  int(row.WinnerTeam.Int64),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Duration.Valid {
		m.ActualDuration = int(row.Duration.Int64)
	}
	if row.PickBanJSON.Valid {
		m.PickBanData = json.RawMessage(row.PickBanJSON.String)
	}
	if err := json.Unmarshal([]byte(row.Team1JSON), &m.Team1); err != nil {
		return nil, fmt.Errorf("corrupt team1 roster for match %s: %w", matchID, err)
	}
	if err := json.Unmarshal([]byte(row.Team2JSON), &m.Team2); err != nil {
		return nil, fmt.Errorf("corrupt team2 roster for match %s: %w", matchID, err)
	}
	return m, nil
}

// UpdateMatchStatus is the optimistic status move used under phase locks.
func (s *SQLiteStore) UpdateMatchStatus(ctx context.Context, matchID, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_matches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now(), matchID, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: match %s not in status %s", domain.ErrConflict, matchID, from)
	}
	return nil
}

// SetMatchStatus writes the status unconditionally.
func (s *SQLiteStore) SetMatchStatus(ctx context.Context, matchID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE custom_matches SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), matchID)
	return err
}

// SavePickBanData replaces the draft snapshot column.
func (s *SQLiteStore) SavePickBanData(ctx context.Context, matchID string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE custom_matches SET pick_ban_data_json = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now(), matchID)
	return err
}

// CompleteMatch records the final result.
func (s *SQLiteStore) CompleteMatch(ctx context.Context, matchID string, winnerTeam int, duration time.Duration, lpChanges map[string]int) error {
	lpJSON, err := json.Marshal(lpChanges)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE custom_matches SET
			status = ?, winner_team = ?, actual_winner = ?, actual_duration = ?,
			lp_changes_json = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		domain.MatchStatusCompleted, winnerTeam, winnerTeam, int(duration.Seconds()),
		string(lpJSON), now, now, matchID)
	return err
}

// DeleteMatch removes the match row.
func (s *SQLiteStore) DeleteMatch(ctx context.Context, matchID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM custom_matches WHERE id = ?`, matchID)
	return err
}

// ListMatchIDsByStatus returns ids of matches in any of the statuses.
func (s *SQLiteStore) ListMatchIDsByStatus(ctx context.Context, statuses ...string) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM custom_matches WHERE status IN (?)`, statuses)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...)
	return ids, err
}

// GetPlayer loads a player by summoner name (case-insensitive), or nil.
func (s *SQLiteStore) GetPlayer(ctx context.Context, summonerName string) (*domain.Player, error) {
	var p domain.Player
	err := s.db.GetContext(ctx, &p,
		`SELECT id, summoner_name, game_name, tag_line, region, custom_lp,
			primary_lane, secondary_lane, wins, losses
		 FROM players WHERE summoner_name = ? COLLATE NOCASE`, summonerName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPlayer creates or refreshes a player row.
func (s *SQLiteStore) UpsertPlayer(ctx context.Context, p *domain.Player) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (summoner_name, game_name, tag_line, region, custom_lp, primary_lane, secondary_lane)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(summoner_name) DO UPDATE SET
			game_name = excluded.game_name,
			tag_line = excluded.tag_line,
			region = excluded.region,
			primary_lane = excluded.primary_lane,
			secondary_lane = excluded.secondary_lane`,
		p.SummonerName, p.GameName, p.TagLine, p.Region, p.CustomLP,
		p.PrimaryLane, p.SecondaryLane,
	)
	return err
}

// ApplyMatchResult adjusts a player's LP and win/loss record.
func (s *SQLiteStore) ApplyMatchResult(ctx context.Context, summonerName string, lpDelta int, won bool) error {
	winInc, lossInc := 0, 1
	if won {
		winInc, lossInc = 1, 0
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET custom_lp = custom_lp + ?, wins = wins + ?, losses = losses + ?
		 WHERE summoner_name = ? COLLATE NOCASE`,
		lpDelta, winInc, lossInc, summonerName)
	return err
}

// SavePushSubscription stores or refreshes a push endpoint.
func (s *SQLiteStore) SavePushSubscription(ctx context.Context, sub *PushSubscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (summoner_name, endpoint, p256dh, auth)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
			summoner_name = excluded.summoner_name,
			p256dh = excluded.p256dh,
			auth = excluded.auth`,
		sub.SummonerName, sub.Endpoint, sub.P256dh, sub.Auth)
	return err
}

// GetPushSubscriptions returns every endpoint registered by a player.
func (s *SQLiteStore) GetPushSubscriptions(ctx context.Context, summonerName string) ([]PushSubscription, error) {
	var subs []PushSubscription
	err := s.db.SelectContext(ctx, &subs,
		`SELECT summoner_name, endpoint, p256dh, auth
		 FROM push_subscriptions WHERE summoner_name = ? COLLATE NOCASE`, summonerName)
	return subs, err
}

// DeletePushSubscription removes an expired or invalid endpoint.
func (s *SQLiteStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	return err
}

// Leaderboard returns the LP standings, highest first.
func (s *SQLiteStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT summoner_name, custom_lp, wins, losses
		 FROM players ORDER BY custom_lp DESC, wins DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		total := entries[i].Wins + entries[i].Losses
		if total > 0 {
			entries[i].WinRate = float64(entries[i].Wins) / float64(total) * 100
		}
	}
	return entries, nil
}
