package main

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResult struct {
	out Outcome
	err error
}

func fastRunner(s *Session, ch Channel, ctrl Controller) *Runner {
	return NewRunner(RunnerConfig{
		Session:           s,
		Channel:           ch,
		Controller:        ctrl,
		FrameInterval:     2 * time.Millisecond,
		BroadcastInterval: 5 * time.Millisecond,
		ReadyResend:       20 * time.Millisecond,
		Logger:            nopLog,
	})
}

func runAsync(ctx context.Context, r *Runner) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		out, err := r.Run(ctx)
		done <- runResult{out, err}
	}()
	return done
}

func waitResult(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(20 * time.Second):
		t.Fatal("runner did not finish")
	}
	return runResult{}
}

func openTestChannel(t *testing.T, relay Relay, matchID, identity string) Channel {
	t.Helper()
	ch, err := OpenChannel(context.Background(), relay, matchID, identity)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

// shootAtOpponent turns toward the opponent mirror and fires when it can
func shootAtOpponent(s *Session) {
	s.Aim(math.Atan2(s.Opponent.Y-s.Local.Y, s.Opponent.X-s.Local.X))
	s.Fire()
}

func TestRunnerPlaysToKnockout(t *testing.T) {
	relay := NewMemoryRelay()
	defer relay.Close()
	a, b := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chA := openTestChannel(t, relay, "m1", "alice")
	chB := openTestChannel(t, relay, "m1", "bob")

	doneA := runAsync(ctx, fastRunner(a, chA, shootAtOpponent))
	doneB := runAsync(ctx, fastRunner(b, chB, nil))

	resB := waitResult(t, doneB)
	require.NoError(t, resB.err)
	assert.Equal(t, SideOpponent, resB.out.Winner)
	assert.Equal(t, OutcomeKnockout, resB.out.Reason)

	resA := waitResult(t, doneA)
	require.NoError(t, resA.err)
	assert.Equal(t, SideLocal, resA.out.Winner)

	// both sides report the same winner
	assert.Equal(t, "alice", a.WinnerIdentity())
	assert.Equal(t, "alice", b.WinnerIdentity())
}

func TestRunnerForfeitWhenPeerLeaves(t *testing.T) {
	relay := NewMemoryRelay()
	defer relay.Close()
	a, _ := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chA := openTestChannel(t, relay, "m1", "alice")
	chB := openTestChannel(t, relay, "m1", "bob")
	doneA := runAsync(ctx, fastRunner(a, chA, nil))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, chB.Close())

	res := waitResult(t, doneA)
	require.NoError(t, res.err)
	assert.Equal(t, SideLocal, res.out.Winner)
	assert.Equal(t, OutcomeForfeit, res.out.Reason)
}

func TestRunnerStopsOnContext(t *testing.T) {
	relay := NewMemoryRelay()
	defer relay.Close()
	a, _ := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := waitResult(t, runAsync(ctx, fastRunner(a, openTestChannel(t, relay, "m1", "alice"), nil)))
	assert.ErrorIs(t, res.err, context.DeadlineExceeded)
	assert.Equal(t, StateWaiting, a.State())
}

func TestRunnerStopsWhenChannelCloses(t *testing.T) {
	relay := NewMemoryRelay()
	a, _ := newSessionPair(t)
	ch := openTestChannel(t, relay, "m1", "alice")
	done := runAsync(context.Background(), fastRunner(a, ch, nil))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, relay.Close())

	res := waitResult(t, done)
	assert.True(t, eris.Is(res.err, ErrChannelClosed))
}

func TestRunnerAppliesInput(t *testing.T) {
	relay := NewMemoryRelay()
	defer relay.Close()
	a, b := newSessionPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputs := make(chan Input, 1)
	moved := make(chan float64, 1)
	r := NewRunner(RunnerConfig{
		Session:       a,
		Channel:       openTestChannel(t, relay, "m1", "alice"),
		Inputs:        inputs,
		FrameInterval: 2 * time.Millisecond,
		Logger:        nopLog,
		Render: func(s *Session) {
			if s.Local.Y < ArenaHeight/2 {
				select {
				case moved <- s.Local.Y:
				default:
				}
			}
		},
	})
	done := runAsync(ctx, r)
	doneB := runAsync(ctx, fastRunner(b, openTestChannel(t, relay, "m1", "bob"), nil))

	inputs <- Input{Intent: &Intent{Up: true}}
	select {
	case y := <-moved:
		assert.Less(t, y, ArenaHeight/2)
	case <-time.After(5 * time.Second):
		t.Fatal("input was not applied")
	}
	cancel()
	waitResult(t, done)
	waitResult(t, doneB)
}
