package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectileStep(t *testing.T) {
	p := NewProjectile("p1", 100, 100, math.Pi/2, SideLocal)
	for i := 0; i < 5; i++ {
		p.Step()
	}
	assert.InDelta(t, 100, p.X, 1e-9)
	assert.InDelta(t, 150, p.Y, 1e-9)
}

func TestProjectileDeterministic(t *testing.T) {
	// both peers simulate the same shot from the same snapshot
	local := NewProjectile("p1", 120, 280, 0.3, SideLocal)
	remote := ProjectileFromSnapshot(local.Snapshot())
	for i := 0; i < 40; i++ {
		local.Step()
		remote.Step()
	}
	assert.Equal(t, local.X, remote.X)
	assert.Equal(t, local.Y, remote.Y)
	assert.Equal(t, SideOpponent, remote.Owner)
}

func TestProjectileFromSnapshotDefaultsSpeed(t *testing.T) {
	p := ProjectileFromSnapshot(&ProjectileSnapshot{ID: "p", X: 1, Y: 2})
	assert.Equal(t, ProjectileSpeed, p.Speed)
}

func TestProjectileOutOfBounds(t *testing.T) {
	tests := []struct {
		x, y float64
		out  bool
	}{
		{0, 0, false},
		{ArenaWidth, ArenaHeight, false},
		{-0.1, 10, true},
		{10, ArenaHeight + 0.1, true},
		{ArenaWidth + 1, 10, true},
	}
	for _, tc := range tests {
		p := &Projectile{X: tc.x, Y: tc.y}
		assert.Equal(t, tc.out, p.OutOfBounds(ArenaWidth, ArenaHeight), "(%v,%v)", tc.x, tc.y)
	}
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "local", SideLocal.String())
	assert.Equal(t, "opponent", SideOpponent.String())
	assert.Equal(t, "none", SideNone.String())
}
