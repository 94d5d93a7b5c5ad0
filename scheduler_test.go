package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerPairsAndSweeps(t *testing.T) {
	db := newTestDB(t)
	mm := newTestMatchmaker(t, db)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.ReconcileInterval = 20 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.QueueTTL = time.Minute

	// written by another instance that never reconciled
	_, err := db.InsertEntry(ctx, entry("e1", "alice", 1))
	require.NoError(t, err)
	_, err = db.InsertEntry(ctx, entry("e2", "bob", 2))
	require.NoError(t, err)
	stale := entry("e3", "carol", 3)
	stale.LastSeenAt = time.Now().Add(-time.Hour)
	_, err = db.InsertEntry(ctx, stale)
	require.NoError(t, err)

	sched, err := StartScheduler(mm, cfg, nopLog)
	require.NoError(t, err)
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		latest, err := db.LatestEntry(ctx, "alice")
		return err == nil && latest != nil && latest.Status == QueueMatched
	}, 3*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		latest, err := db.LatestEntry(ctx, "carol")
		return err == nil && latest == nil
	}, 3*time.Second, 10*time.Millisecond)
}
