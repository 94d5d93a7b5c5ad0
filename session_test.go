package main

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionRoles(t *testing.T) {
	a, b := newSessionPair(t)

	assert.Equal(t, RoleA, a.Role())
	assert.Equal(t, "bob", a.OpponentID())
	assert.Equal(t, SpawnInset, a.Local.X)
	assert.Equal(t, ArenaHeight/2, a.Local.Y)
	assert.Equal(t, 0.0, a.Local.Facing)

	assert.Equal(t, RoleB, b.Role())
	assert.Equal(t, ArenaWidth-SpawnInset, b.Local.X)
	assert.Equal(t, math.Pi, b.Local.Facing)

	// both sides agree on the layout without exchanging it
	assert.Equal(t, *a.Local, *b.Opponent)
	assert.Equal(t, *b.Local, *a.Opponent)

	_, err := NewSession(SessionConfig{Match: testMatch(), Identity: "mallory"})
	assert.True(t, eris.Is(err, ErrNotParticipant))
}

func TestReadyHandshake(t *testing.T) {
	a, b := newSessionPair(t)

	// alice subscribed first; her ready reached nobody
	a.Start()
	a.Drain()
	assert.Equal(t, StateWaiting, a.State())

	b.Start()
	msgs := deliver(b, a)
	assert.Equal(t, []string{MsgReady}, kinds(msgs))
	assert.Equal(t, StatePlaying, a.State())
	assert.Equal(t, StateWaiting, b.State())

	// alice answers once with an ack, which is not answered again
	msgs = deliver(a, b)
	require.Equal(t, []string{MsgReady}, kinds(msgs))
	assert.True(t, msgs[0].Ack)
	assert.Equal(t, StatePlaying, b.State())
	assert.Empty(t, b.Drain())
}

func TestReadyResendRecoversLostAck(t *testing.T) {
	a, b := newSessionPair(t)
	a.Start()
	a.Drain()
	b.Start()
	deliver(b, a)
	a.Drain() // ack lost
	require.Equal(t, StateWaiting, b.State())

	b.ResendReady()
	deliver(b, a)
	deliver(a, b)
	assert.Equal(t, StatePlaying, b.State())

	// nothing to resend once playing
	b.ResendReady()
	assert.Empty(t, b.Drain())
}

func TestSimulationWaitsForReady(t *testing.T) {
	a, _ := newSessionPair(t)
	a.Start()
	a.SetIntent(Intent{Right: true})

	a.Step()
	assert.False(t, a.Fire())
	assert.EqualValues(t, 0, a.Frame())
	assert.Equal(t, SpawnInset, a.Local.X)
}

func TestEchoSuppression(t *testing.T) {
	a, _ := newSessionPair(t)
	a.Start()
	msgs := a.Drain()
	require.Len(t, msgs, 1)

	a.Handle(msgs[0])
	assert.Equal(t, StateWaiting, a.State())
	assert.Empty(t, a.Drain())
}

func TestIgnoresOutsiders(t *testing.T) {
	a, _ := newSessionPair(t)
	a.Handle(Message{T: MsgReady, From: "mallory"})
	a.Handle(Message{T: MsgLeave, From: "mallory"})
	assert.Equal(t, StateWaiting, a.State())
}

func TestOutgoingSequenceNumbers(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	a.BroadcastState()
	a.Fire()
	a.BroadcastState()
	msgs := a.Drain()
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
		assert.Equal(t, "alice", msgs[i].From)
	}
}

func TestStalePlayerUpdateDiscarded(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	update := func(seq uint64, x float64) Message {
		return Message{T: MsgPlayerUpdate, From: "alice", Seq: seq, Player: &PlayerSnapshot{X: x, Y: 300, Health: 100, Speed: BaseSpeed}}
	}
	b.Handle(update(10, 300))
	b.Handle(update(7, 999))
	assert.Equal(t, 300.0, b.Opponent.X)
	b.Handle(update(10, 555))
	assert.Equal(t, 300.0, b.Opponent.X)
	b.Handle(update(11, 310))
	assert.Equal(t, 310.0, b.Opponent.X)
}

func TestMovementClampedToArena(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	a.SetIntent(Intent{Left: true, Up: true})
	for i := 0; i < 200; i++ {
		a.Step()
	}
	assert.Equal(t, SpriteSize/2, a.Local.X)
	assert.Equal(t, SpriteSize/2, a.Local.Y)

	a.SetIntent(Intent{Right: true, Down: true})
	for i := 0; i < 300; i++ {
		a.Step()
	}
	assert.Equal(t, ArenaWidth-SpriteSize/2, a.Local.X)
	assert.Equal(t, ArenaHeight-SpriteSize/2, a.Local.Y)
}

func TestFireCooldownAndShoot(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	require.True(t, a.Fire())
	assert.False(t, a.Fire())
	msgs := deliver(a, b)
	require.Equal(t, []string{MsgShoot}, kinds(msgs))

	require.Len(t, b.Projectiles(), 1)
	assert.Equal(t, SideOpponent, b.Projectiles()[0].Owner)
	require.Len(t, a.Projectiles(), 1)
	assert.Equal(t, SideLocal, a.Projectiles()[0].Owner)

	for i := 0; i < FireCooldownFrames; i++ {
		a.Step()
	}
	assert.True(t, a.Fire())
}

func TestLocalProjectileRemovedWhenLeavingArena(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	a.Aim(math.Pi)
	require.True(t, a.Fire())
	for i := 0; i < 10; i++ {
		a.Step()
	}
	require.Len(t, a.Projectiles(), 1)
	assert.Equal(t, 0.0, a.Projectiles()[0].X)

	a.Step()
	assert.Empty(t, a.Projectiles())
}

// shootAt injects an opponent shot that hits bob on the next frame
func shootAt(b *Session, id string) {
	b.Handle(Message{
		T:          MsgShoot,
		From:       "alice",
		Projectile: &ProjectileSnapshot{ID: id, X: b.Local.X - 20, Y: b.Local.Y, Angle: 0, Speed: ProjectileSpeed},
	})
}

func TestHealthAfterHits(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	for i := 0; i < 3; i++ {
		shootAt(b, "s"+string(rune('0'+i)))
		b.Step()
	}
	assert.Equal(t, 40.0, b.Local.Health)
	assert.Empty(t, b.Projectiles())

	shootAt(b, "s3")
	b.Step()
	assert.Equal(t, 20.0, b.Local.Health)
	assert.Equal(t, StatePlaying, b.State())

	shootAt(b, "s4")
	b.Step()
	assert.Equal(t, 0.0, b.Local.Health)
	assert.Equal(t, StateEnded, b.State())
	out, ok := b.Outcome()
	require.True(t, ok)
	assert.Equal(t, SideOpponent, out.Winner)
	assert.Equal(t, OutcomeKnockout, out.Reason)
	assert.Equal(t, "alice", b.WinnerIdentity())

	// bob's last snapshot tells alice she won
	msgs := deliver(b, a)
	require.NotEmpty(t, msgs)
	assert.Equal(t, MsgPlayerUpdate, msgs[len(msgs)-1].T)
	assert.Equal(t, StateEnded, a.State())
	out, ok = a.Outcome()
	require.True(t, ok)
	assert.Equal(t, SideLocal, out.Winner)
	assert.Equal(t, "alice", a.WinnerIdentity())

	// ended is terminal
	shootAt(b, "s5")
	b.Step()
	assert.Equal(t, 0.0, b.Local.Health)
}

func TestReducedHitboxMiss(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	// after one frame the shot's edge touches the sprite bounds, not the hitbox
	x := b.Local.X + SpriteSize/2 + ProjectileRadius + ProjectileSpeed
	b.Handle(Message{
		T:          MsgShoot,
		From:       "alice",
		Projectile: &ProjectileSnapshot{ID: "edge", X: x, Y: b.Local.Y, Angle: math.Pi, Speed: ProjectileSpeed},
	})
	b.Step()
	assert.Equal(t, MaxHealth, b.Local.Health)
	require.Len(t, b.Projectiles(), 1)
}

func TestForfeitOnLeave(t *testing.T) {
	t.Run("playing", func(t *testing.T) {
		a, b := newSessionPair(t)
		startPlaying(t, a, b)
		b.Handle(Message{T: MsgLeave, From: "alice"})
		out, ok := b.Outcome()
		require.True(t, ok)
		assert.Equal(t, SideLocal, out.Winner)
		assert.Equal(t, OutcomeForfeit, out.Reason)
		assert.Equal(t, "bob", b.WinnerIdentity())
	})

	t.Run("waiting", func(t *testing.T) {
		a, _ := newSessionPair(t)
		a.Handle(Message{T: MsgLeave, From: "bob"})
		assert.Equal(t, StateEnded, a.State())
		out, _ := a.Outcome()
		assert.Equal(t, OutcomeForfeit, out.Reason)
	})
}

func TestPowerUpSpawnAndPickup(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	var spawn *Message
	for i := 0; i < PowerUpMaxFrames+1 && spawn == nil; i++ {
		a.Step()
		for _, m := range deliver(a, b) {
			if m.T == MsgPowerUpSpawn {
				m := m
				spawn = &m
			}
		}
	}
	require.NotNil(t, spawn, "role A spawns a power-up within the max interval")
	require.Len(t, a.PowerUps(), 1)
	require.Len(t, b.PowerUps(), 1)
	pu := b.PowerUps()[0]
	assert.Equal(t, spawn.PowerUp.ID, pu.ID)

	// bob walks onto it
	b.Local.Health = 50
	b.Local.X, b.Local.Y = pu.X, pu.Y
	b.Step()
	assert.Empty(t, b.PowerUps())
	switch pu.Kind {
	case PowerUpHealth:
		assert.Equal(t, 70.0, b.Local.Health)
	case PowerUpSpeed:
		assert.Equal(t, BoostSpeed, b.Local.Speed)
	}

	msgs := deliver(b, a)
	require.Contains(t, kinds(msgs), MsgPowerUpPickup)
	assert.Empty(t, a.PowerUps())
}

func TestOnlyRoleASpawnsPowerUps(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)
	for i := 0; i < PowerUpMaxFrames*2; i++ {
		b.Step()
	}
	assert.NotContains(t, kinds(b.Drain()), MsgPowerUpSpawn)
}

func TestNonFiniteSnapshotsIgnored(t *testing.T) {
	a, b := newSessionPair(t)
	startPlaying(t, a, b)

	b.Handle(Message{T: MsgShoot, From: "alice", Projectile: &ProjectileSnapshot{ID: "nan", X: math.NaN(), Y: 300, Speed: ProjectileSpeed}})
	b.Handle(Message{T: MsgShoot, From: "alice", Projectile: &ProjectileSnapshot{ID: "inf", X: 100, Y: 300, Angle: math.Inf(1), Speed: ProjectileSpeed}})
	b.Handle(Message{T: MsgShoot, From: "alice", Projectile: &ProjectileSnapshot{X: 100, Y: 300, Speed: ProjectileSpeed}})
	assert.Empty(t, b.Projectiles())

	before := *b.Opponent
	b.Handle(Message{T: MsgPlayerUpdate, From: "alice", Seq: 50, Player: &PlayerSnapshot{X: 120, Y: 300, Health: math.NaN(), Speed: BaseSpeed}})
	assert.Equal(t, before, *b.Opponent)
	assert.Equal(t, StatePlaying, b.State())

	a.Handle(Message{T: MsgPowerUpSpawn, From: "bob", PowerUp: &PowerUpSnapshot{ID: "u1", X: math.Inf(-1), Y: 10, Kind: PowerUpHealth}})
	a.Handle(Message{T: MsgPowerUpSpawn, From: "bob", PowerUp: &PowerUpSnapshot{ID: "u2", X: 10, Y: 10, Kind: "bomb"}})
	assert.Empty(t, a.PowerUps())

	// a valid update with a lower seq still applies; the rejected one did not advance it
	b.Handle(Message{T: MsgPlayerUpdate, From: "alice", Seq: 20, Player: &PlayerSnapshot{X: 130, Y: 300, Health: 90, Speed: BaseSpeed}})
	assert.Equal(t, 130.0, b.Opponent.X)
	assert.Equal(t, 90.0, b.Opponent.Health)
}
