package main

import (
	"context"
	"time"
)

// QueueStatus is the state of a queue entry
type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueueMatched QueueStatus = "matched"
)

// QueueEntry is one player waiting to be paired
type QueueEntry struct {
	ID       string      `json:"id"`
	Identity string      `json:"identity"`
	Status   QueueStatus `json:"status"`
	// JoinedAt is the ordering key (unix nanoseconds, strictly increasing per
	// matchmaker). Seq is the row id and breaks ties between instances.
	JoinedAt   int64     `json:"joined_at"`
	Seq        int64     `json:"-"`
	MatchID    string    `json:"match_id,omitempty"`
	LastSeenAt time.Time `json:"-"`
}

// MatchStatus is the state of a match record
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// Match is a paired contest between exactly two identities
type Match struct {
	ID           string      `json:"id"`
	ParticipantA string      `json:"participant_a"`
	ParticipantB string      `json:"participant_b"`
	Status       MatchStatus `json:"status"`
	Winner       string      `json:"winner,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// HasParticipant reports whether identity plays in the match
func (m *Match) HasParticipant(identity string) bool {
	return identity != "" && (identity == m.ParticipantA || identity == m.ParticipantB)
}

// Opponent returns the other participant, or "" if identity is not in the match
func (m *Match) Opponent(identity string) string {
	switch identity {
	case m.ParticipantA:
		return m.ParticipantB
	case m.ParticipantB:
		return m.ParticipantA
	}
	return ""
}

// QueueStore is the durable table of waiting players
type QueueStore interface {
	InsertEntry(ctx context.Context, e QueueEntry) (QueueEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	// DeleteQueued removes the identity's entries that are still queued
	DeleteQueued(ctx context.Context, identity string) error
	// DeleteEntries removes every entry of the identity
	DeleteEntries(ctx context.Context, identity string) error
	// ScanQueued returns queued entries, oldest first
	ScanQueued(ctx context.Context) ([]QueueEntry, error)
	LatestEntry(ctx context.Context, identity string) (*QueueEntry, error)
	TouchEntries(ctx context.Context, identity string, at time.Time) error
	SweepQueued(ctx context.Context, seenBefore time.Time) (int64, error)
	// PromotePair marks both entries matched and creates m in one transaction.
	// It returns false without changes when either entry is no longer queued.
	PromotePair(ctx context.Context, a, b QueueEntry, m Match) (bool, error)
}

// MatchStore is the durable table of match records
type MatchStore interface {
	GetMatch(ctx context.Context, id string) (*Match, error)
	// CompleteMatch sets the winner of an active match and records the result
	// in player stats. It returns false when the match was already completed.
	CompleteMatch(ctx context.Context, id, winner, loser string, at time.Time) (bool, error)
}

// StatsStore reads the aggregate per-identity counters
type StatsStore interface {
	GetStats(ctx context.Context, identity string) (*StatsRow, error)
	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}
