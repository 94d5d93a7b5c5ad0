package main

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents a player record in the database
type PlayerRow struct {
	ID        string
	Username  string
	PassHash  string
	Guest     bool
	CreatedAt time.Time
}

// StatsRow holds the aggregate results of one identity
type StatsRow struct {
	Identity string `json:"identity"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Games    int    `json:"games"`
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Identity string `json:"identity"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Games    int    `json:"games"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": {"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(ON)"},
	}.Encode()
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent joins
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		is_guest INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS queue_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		identity TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('queued', 'matched')),
		joined_at INTEGER NOT NULL,
		match_id TEXT,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'completed')),
		winner TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS player_stats (
		identity TEXT PRIMARY KEY,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		games INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		identity TEXT,
		match_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status_order ON queue_entries(status, joined_at, seq);
	CREATE INDEX IF NOT EXISTS idx_queue_identity ON queue_entries(identity);
	CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics_events(created_at);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return eris.Wrap(err, "migrate schema")
	}
	return nil
}

// --- Settings ---

// GetSetting returns a stored setting, or "" when missing
func (db *DB) GetSetting(key string) string {
	var v string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v); err != nil {
		return ""
	}
	return v
}

// SetSetting stores a setting, replacing any previous value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return eris.Wrap(err, "set setting")
}

// --- Players ---

// CreatePlayer creates a player account. Guests have no password.
func (db *DB) CreatePlayer(ctx context.Context, id, username, passHash string, guest bool) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO players (id, username, pass_hash, is_guest, created_at) VALUES (?, ?, ?, ?, ?)",
		id, username, passHash, guest, time.Now().UnixMilli(),
	)
	return eris.Wrap(err, "create player")
}

// GetPlayerByUsername returns a player by username, or nil if none exists
func (db *DB) GetPlayerByUsername(ctx context.Context, username string) (*PlayerRow, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, pass_hash, is_guest, created_at FROM players WHERE username = ?",
		username,
	)
	p := &PlayerRow{}
	var created int64
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.Guest, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "get player")
	}
	p.CreatedAt = time.UnixMilli(created)
	return p, nil
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, eris.Wrap(err, "count usernames")
}

// --- Queue ---

const queueColumns = "seq, id, identity, status, joined_at, match_id, last_seen_at"

func scanQueueEntry(s interface{ Scan(...any) error }) (QueueEntry, error) {
	var e QueueEntry
	var matchID sql.NullString
	var seen int64
	if err := s.Scan(&e.Seq, &e.ID, &e.Identity, &e.Status, &e.JoinedAt, &matchID, &seen); err != nil {
		return e, err
	}
	e.MatchID = matchID.String
	e.LastSeenAt = time.Unix(0, seen)
	return e, nil
}

// InsertEntry adds a queue entry and returns it with its row sequence set
func (db *DB) InsertEntry(ctx context.Context, e QueueEntry) (QueueEntry, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO queue_entries (id, identity, status, joined_at, match_id, last_seen_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Identity, e.Status, e.JoinedAt, sql.NullString{String: e.MatchID, Valid: e.MatchID != ""}, e.LastSeenAt.UnixNano(),
	)
	if err != nil {
		return e, eris.Wrap(err, "insert queue entry")
	}
	e.Seq, err = res.LastInsertId()
	return e, eris.Wrap(err, "queue entry id")
}

// DeleteEntry removes a single queue entry that is still waiting
func (db *DB) DeleteEntry(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM queue_entries WHERE id = ? AND status = ?", id, QueueQueued)
	return eris.Wrap(err, "delete queue entry")
}

// DeleteQueued removes the identity's entries that are still waiting
func (db *DB) DeleteQueued(ctx context.Context, identity string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM queue_entries WHERE identity = ? AND status = ?", identity, QueueQueued)
	return eris.Wrap(err, "delete queued entries")
}

// DeleteEntries removes every entry of the identity
func (db *DB) DeleteEntries(ctx context.Context, identity string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM queue_entries WHERE identity = ?", identity)
	return eris.Wrap(err, "delete queue entries")
}

// ScanQueued returns every queued entry ordered by join time
func (db *DB) ScanQueued(ctx context.Context) ([]QueueEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM queue_entries WHERE status = ? ORDER BY joined_at ASC, seq ASC",
		QueueQueued,
	)
	if err != nil {
		return nil, eris.Wrap(err, "scan queue")
	}
	defer rows.Close()

	var result []QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan queue row")
		}
		result = append(result, e)
	}
	return result, eris.Wrap(rows.Err(), "scan queue rows")
}

// LatestEntry returns the most recent entry of the identity, or nil
func (db *DB) LatestEntry(ctx context.Context, identity string) (*QueueEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM queue_entries WHERE identity = ? ORDER BY joined_at DESC, seq DESC LIMIT 1",
		identity,
	)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "latest queue entry")
	}
	return &e, nil
}

// TouchEntries records that the identity is still waiting
func (db *DB) TouchEntries(ctx context.Context, identity string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE queue_entries SET last_seen_at = ? WHERE identity = ? AND status = ?",
		at.UnixNano(), identity, QueueQueued)
	return eris.Wrap(err, "touch queue entries")
}

// SweepQueued deletes queued entries not seen since seenBefore
func (db *DB) SweepQueued(ctx context.Context, seenBefore time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM queue_entries WHERE status = ? AND last_seen_at < ?",
		QueueQueued, seenBefore.UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sweep queue")
	}
	return res.RowsAffected()
}

// PromotePair moves two queued entries into a new match atomically
func (db *DB) PromotePair(ctx context.Context, a, b QueueEntry, m Match) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "begin promote")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE queue_entries SET status = ?, match_id = ? WHERE id IN (?, ?) AND status = ?",
		QueueMatched, m.ID, a.ID, b.ID, QueueQueued,
	)
	if err != nil {
		return false, eris.Wrap(err, "mark entries matched")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "count matched entries")
	}
	if n != 2 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO matches (id, participant_a, participant_b, status, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.ParticipantA, m.ParticipantB, MatchActive, m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, eris.Wrap(err, "insert match")
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "commit promote")
	}
	return true, nil
}

// --- Matches ---

// GetMatch returns a match by ID, or nil if none exists
func (db *DB) GetMatch(ctx context.Context, id string) (*Match, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, participant_a, participant_b, status, winner, created_at, completed_at FROM matches WHERE id = ?",
		id,
	)
	m := &Match{}
	var winner sql.NullString
	var created int64
	var completed sql.NullInt64
	err := row.Scan(&m.ID, &m.ParticipantA, &m.ParticipantB, &m.Status, &winner, &created, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "get match")
	}
	m.Winner = winner.String
	m.CreatedAt = time.UnixMilli(created)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		m.CompletedAt = &t
	}
	return m, nil
}

// CompleteMatch writes the winner once and upserts both players' counters
func (db *DB) CompleteMatch(ctx context.Context, id, winner, loser string, at time.Time) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "begin complete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE matches SET status = ?, winner = ?, completed_at = ? WHERE id = ? AND status = ?",
		MatchCompleted, winner, at.UnixMilli(), id, MatchActive,
	)
	if err != nil {
		return false, eris.Wrap(err, "complete match")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "count completed")
	}
	if n == 0 {
		return false, nil
	}

	const upsert = `
		INSERT INTO player_stats (identity, wins, losses, games, updated_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(identity) DO UPDATE SET
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			games = games + 1,
			updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, winner, 1, 0, at.UnixMilli()); err != nil {
		return false, eris.Wrap(err, "record win")
	}
	if _, err := tx.ExecContext(ctx, upsert, loser, 0, 1, at.UnixMilli()); err != nil {
		return false, eris.Wrap(err, "record loss")
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "commit complete")
	}
	return true, nil
}

// --- Stats ---

// GetStats returns the counters of an identity, or nil if it never finished a match
func (db *DB) GetStats(ctx context.Context, identity string) (*StatsRow, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT identity, wins, losses, games FROM player_stats WHERE identity = ?", identity)
	s := &StatsRow{}
	err := row.Scan(&s.Identity, &s.Wins, &s.Losses, &s.Games)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, eris.Wrap(err, "get stats")
}

// GetLeaderboard returns top players by wins. Guests are listed by their guest name.
func (db *DB) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.identity, COALESCE(p.username, ''), s.wins, s.losses, s.games
		FROM player_stats s LEFT JOIN players p ON p.id = s.identity
		ORDER BY s.wins DESC, s.games ASC, s.identity ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query leaderboard")
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Identity, &e.Username, &e.Wins, &e.Losses, &e.Games); err != nil {
			return nil, eris.Wrap(err, "scan leaderboard")
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, eris.Wrap(rows.Err(), "leaderboard rows")
}
