package main

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ---------- helpers ----------

var nopLog = zerolog.Nop()

// newTestDB opens a fresh SQLite database in a temp dir
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestMatchmaker returns a matchmaker with no settling delay
func newTestMatchmaker(t *testing.T, db *DB) *Matchmaker {
	t.Helper()
	return NewMatchmaker(MatchmakerConfig{Queue: db, Matches: db, Logger: nopLog})
}

// pairUp joins a then b and returns their match
func pairUp(t *testing.T, mm *Matchmaker, a, b string) *Match {
	t.Helper()
	ctx := context.Background()
	_, err := mm.Join(ctx, a)
	require.NoError(t, err)
	res, err := mm.Join(ctx, b)
	require.NoError(t, err)
	require.Equal(t, ResultMatched, res.Status)
	require.NotNil(t, res.Match)
	return res.Match
}

func testMatch() *Match {
	return &Match{
		ID:           "m1",
		ParticipantA: "alice",
		ParticipantB: "bob",
		Status:       MatchActive,
		CreatedAt:    time.Now(),
	}
}

// newSessionPair creates alice's (role A) and bob's (role B) sessions
func newSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	m := testMatch()
	a, err := NewSession(SessionConfig{Match: m, Identity: "alice", Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)
	b, err := NewSession(SessionConfig{Match: m, Identity: "bob"})
	require.NoError(t, err)
	return a, b
}

// deliver moves everything from's outbox to to, echoing it back to from the
// way the relay does. It returns the delivered messages.
func deliver(from, to *Session) []Message {
	msgs := from.Drain()
	for _, m := range msgs {
		from.Handle(m)
		to.Handle(m)
	}
	return msgs
}

// startPlaying runs the ready handshake until both sessions play
func startPlaying(t *testing.T, a, b *Session) {
	t.Helper()
	a.Start()
	b.Start()
	deliver(a, b)
	deliver(b, a)
	deliver(a, b)
	require.Equal(t, StatePlaying, a.State())
	require.Equal(t, StatePlaying, b.State())
}

func kinds(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.T
	}
	return out
}
