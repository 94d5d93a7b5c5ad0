package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id, identity string, joined int64) QueueEntry {
	return QueueEntry{ID: id, Identity: identity, Status: QueueQueued, JoinedAt: joined, LastSeenAt: time.Now()}
}

func TestScanQueuedOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, e := range []QueueEntry{entry("e3", "carol", 30), entry("e1", "alice", 10), entry("e2", "bob", 20)} {
		_, err := db.InsertEntry(ctx, e)
		require.NoError(t, err)
	}

	queued, err := db.ScanQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, "e1", queued[0].ID)
	assert.Equal(t, "e2", queued[1].ID)
	assert.Equal(t, "e3", queued[2].ID)
}

func TestScanQueuedTieBreaksOnInsertOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.InsertEntry(ctx, entry("first", "alice", 10))
	require.NoError(t, err)
	_, err = db.InsertEntry(ctx, entry("second", "bob", 10))
	require.NoError(t, err)

	queued, err := db.ScanQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "first", queued[0].ID)
}

func TestPromotePair(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.InsertEntry(ctx, entry("e1", "alice", 1))
	require.NoError(t, err)
	b, err := db.InsertEntry(ctx, entry("e2", "bob", 2))
	require.NoError(t, err)

	m := Match{ID: "m1", ParticipantA: "alice", ParticipantB: "bob", Status: MatchActive, CreatedAt: time.Now()}
	ok, err := db.PromotePair(ctx, a, b, m)
	require.NoError(t, err)
	require.True(t, ok)

	latest, err := db.LatestEntry(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, QueueMatched, latest.Status)
	assert.Equal(t, "m1", latest.MatchID)

	stored, err := db.GetMatch(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.ParticipantA)
	assert.Equal(t, "bob", stored.ParticipantB)
	assert.Equal(t, MatchActive, stored.Status)

	queued, err := db.ScanQueued(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestPromotePairLosesRace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.InsertEntry(ctx, entry("e1", "alice", 1))
	require.NoError(t, err)
	b, err := db.InsertEntry(ctx, entry("e2", "bob", 2))
	require.NoError(t, err)
	// bob leaves between the scan and the promotion
	require.NoError(t, db.DeleteEntries(ctx, "bob"))

	ok, err := db.PromotePair(ctx, a, b, Match{ID: "m1", ParticipantA: "alice", ParticipantB: "bob", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)

	// nothing changed: alice still waits and no match exists
	latest, err := db.LatestEntry(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, QueueQueued, latest.Status)
	m, err := db.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCompleteMatchOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.InsertEntry(ctx, entry("e1", "alice", 1))
	b, _ := db.InsertEntry(ctx, entry("e2", "bob", 2))
	ok, err := db.PromotePair(ctx, a, b, Match{ID: "m1", ParticipantA: "alice", ParticipantB: "bob", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, ok)

	applied, err := db.CompleteMatch(ctx, "m1", "alice", "bob", time.Now())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = db.CompleteMatch(ctx, "m1", "bob", "alice", time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	m, err := db.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, MatchCompleted, m.Status)
	assert.Equal(t, "alice", m.Winner)
	assert.NotNil(t, m.CompletedAt)

	alice, err := db.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatsRow{Identity: "alice", Wins: 1, Losses: 0, Games: 1}, *alice)
	bob, err := db.GetStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatsRow{Identity: "bob", Wins: 0, Losses: 1, Games: 1}, *bob)
}

func TestSweepQueued(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := entry("e1", "alice", 1)
	old.LastSeenAt = time.Now().Add(-time.Hour)
	_, err := db.InsertEntry(ctx, old)
	require.NoError(t, err)
	_, err = db.InsertEntry(ctx, entry("e2", "bob", 2))
	require.NoError(t, err)

	n, err := db.SweepQueued(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	queued, err := db.ScanQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "bob", queued[0].Identity)
}

func TestLeaderboard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreatePlayer(ctx, "id-alice", "alice", "", true))

	results := []struct{ id, winner, loser string }{
		{"m1", "id-alice", "id-bob"},
		{"m2", "id-alice", "id-carol"},
		{"m3", "id-bob", "id-carol"},
	}
	for i, r := range results {
		a, _ := db.InsertEntry(ctx, entry(r.id+"a", r.winner, int64(i*2)))
		b, _ := db.InsertEntry(ctx, entry(r.id+"b", r.loser, int64(i*2+1)))
		ok, err := db.PromotePair(ctx, a, b, Match{ID: r.id, ParticipantA: r.winner, ParticipantB: r.loser, CreatedAt: time.Now()})
		require.NoError(t, err)
		require.True(t, ok)
		_, err = db.CompleteMatch(ctx, r.id, r.winner, r.loser, time.Now())
		require.NoError(t, err)
	}

	lb, err := db.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, lb, 3)
	assert.Equal(t, 1, lb[0].Rank)
	assert.Equal(t, "id-alice", lb[0].Identity)
	assert.Equal(t, "alice", lb[0].Username)
	assert.Equal(t, 2, lb[0].Wins)
	assert.Equal(t, "id-bob", lb[1].Identity)
	assert.Equal(t, "id-carol", lb[2].Identity)
	assert.Equal(t, 2, lb[2].Losses)
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	assert.Equal(t, "", db.GetSetting("missing"))
	require.NoError(t, db.SetSetting("k", "v1"))
	require.NoError(t, db.SetSetting("k", "v2"))
	assert.Equal(t, "v2", db.GetSetting("k"))
}
