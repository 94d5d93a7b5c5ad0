package main

import "math"

const (
	ArenaWidth  = 800.0
	ArenaHeight = 600.0
	SpriteSize  = 50.0 // square player sprite, px
	HitboxScale = 0.65 // share of the sprite that counts as the hitbox
	SpawnInset  = 100.0

	MaxHealth   = 100.0
	BaseSpeed   = 5.0 // px/frame
	BoostSpeed  = 8.0
	BoostFrames = 300
)

// Intent is the movement input of a player
type Intent struct {
	Up, Down, Left, Right bool
}

// PlayerState is one side's player. X and Y are the sprite center.
type PlayerState struct {
	X, Y        float64
	Health      float64
	Speed       float64
	Facing      float64 // radians, 0 faces right
	Intent      Intent
	BoostFrames int
}

// NewPlayerState places a player at the spawn of role
func NewPlayerState(role Role) *PlayerState {
	p := &PlayerState{
		Y:      ArenaHeight / 2,
		Health: MaxHealth,
		Speed:  BaseSpeed,
	}
	if role == RoleA {
		p.X = SpawnInset
	} else {
		p.X = ArenaWidth - SpawnInset
		p.Facing = math.Pi
	}
	return p
}

// Move applies the intent for one frame, keeping the sprite inside the arena
func (p *PlayerState) Move() {
	var dx, dy float64
	if p.Intent.Left {
		dx -= p.Speed
	}
	if p.Intent.Right {
		dx += p.Speed
	}
	if p.Intent.Up {
		dy -= p.Speed
	}
	if p.Intent.Down {
		dy += p.Speed
	}
	half := SpriteSize / 2
	p.X = Clamp(p.X+dx, half, ArenaWidth-half)
	p.Y = Clamp(p.Y+dy, half, ArenaHeight-half)
}

// TickBoost counts down an active speed boost
func (p *PlayerState) TickBoost() {
	if p.BoostFrames <= 0 {
		return
	}
	p.BoostFrames--
	if p.BoostFrames == 0 {
		p.Speed = BaseSpeed
	}
}

// Boost raises the speed for frames frames
func (p *PlayerState) Boost(frames int) {
	p.Speed = BoostSpeed
	p.BoostFrames = frames
}

// TakeDamage lowers health, never below zero
func (p *PlayerState) TakeDamage(dmg float64) {
	p.Health = Clamp(p.Health-dmg, 0, MaxHealth)
}

// Heal raises health, never above MaxHealth
func (p *PlayerState) Heal(amount float64) {
	p.Health = Clamp(p.Health+amount, 0, MaxHealth)
}

// Alive reports whether the player has health left
func (p *PlayerState) Alive() bool {
	return p.Health > 0
}

// Hitbox returns the reduced collision box centered on the sprite
func (p *PlayerState) Hitbox() Rect {
	return ReducedHitbox(p.X, p.Y, SpriteSize, HitboxScale)
}

// Snapshot converts to the wire form
func (p *PlayerState) Snapshot() *PlayerSnapshot {
	return &PlayerSnapshot{
		X:      round1(p.X),
		Y:      round1(p.Y),
		Health: p.Health,
		Speed:  p.Speed,
		Facing: p.Facing,
		Up:     p.Intent.Up,
		Down:   p.Intent.Down,
		Left:   p.Intent.Left,
		Right:  p.Intent.Right,
	}
}

// ApplySnapshot overwrites the mirror with a peer's snapshot
func (p *PlayerState) ApplySnapshot(s *PlayerSnapshot) {
	p.X = s.X
	p.Y = s.Y
	p.Health = Clamp(s.Health, 0, MaxHealth)
	p.Speed = s.Speed
	p.Facing = s.Facing
	p.Intent = Intent{Up: s.Up, Down: s.Down, Left: s.Left, Right: s.Right}
}

// round1 rounds to one decimal to keep frames small
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
