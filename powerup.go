package main

import "math/rand"

// PowerUpKind is the effect of a power-up
type PowerUpKind string

const (
	PowerUpHealth PowerUpKind = "health"
	PowerUpSpeed  PowerUpKind = "speed"
)

const (
	PowerUpRadius    = 15.0
	PowerUpHeal      = 20.0
	PowerUpMargin    = 50.0 // spawn distance from arena edges
	MaxPowerUps      = 3
	PowerUpMinFrames = 300
	PowerUpMaxFrames = 600
)

// PowerUp is a collectible lying in the arena
type PowerUp struct {
	ID   string
	X, Y float64
	Kind PowerUpKind
}

// Touches reports whether p is close enough to collect the power-up
func (pu PowerUp) Touches(p *PlayerState) bool {
	return CheckCollision(pu.X, pu.Y, PowerUpRadius, p.X, p.Y, SpriteSize/2)
}

// Apply gives the power-up's effect to p
func (pu PowerUp) Apply(p *PlayerState) {
	switch pu.Kind {
	case PowerUpHealth:
		p.Heal(PowerUpHeal)
	case PowerUpSpeed:
		p.Boost(BoostFrames)
	}
}

// Snapshot converts to the wire form
func (pu PowerUp) Snapshot() *PowerUpSnapshot {
	return &PowerUpSnapshot{ID: pu.ID, X: pu.X, Y: pu.Y, Kind: pu.Kind}
}

// PowerUpFromSnapshot converts a peer's spawn into a PowerUp
func PowerUpFromSnapshot(s *PowerUpSnapshot) PowerUp {
	return PowerUp{ID: s.ID, X: s.X, Y: s.Y, Kind: s.Kind}
}

// powerUpSpawner drops power-ups on a randomized frame interval. Only role A
// runs one, the peer learns about spawns from powerup_spawn.
type powerUpSpawner struct {
	rng  *rand.Rand
	next uint64
}

func newPowerUpSpawner(rng *rand.Rand, frame uint64) *powerUpSpawner {
	s := &powerUpSpawner{rng: rng}
	s.schedule(frame)
	return s
}

func (s *powerUpSpawner) schedule(frame uint64) {
	s.next = frame + uint64(PowerUpMinFrames+s.rng.Intn(PowerUpMaxFrames-PowerUpMinFrames+1))
}

// tick returns a new power-up when one is due and there is room for it
func (s *powerUpSpawner) tick(frame uint64, live int) (PowerUp, bool) {
	if frame < s.next {
		return PowerUp{}, false
	}
	s.schedule(frame)
	if live >= MaxPowerUps {
		return PowerUp{}, false
	}
	kind := PowerUpHealth
	if s.rng.Intn(2) == 1 {
		kind = PowerUpSpeed
	}
	return PowerUp{
		X:    PowerUpMargin + s.rng.Float64()*(ArenaWidth-2*PowerUpMargin),
		Y:    PowerUpMargin + s.rng.Float64()*(ArenaHeight-2*PowerUpMargin),
		Kind: kind,
	}, true
}
