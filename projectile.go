package main

import "math"

const (
	ProjectileSpeed    = 10.0 // px/frame
	ProjectileRadius   = 4.0
	ProjectileDamage   = 20.0
	FireCooldownFrames = 15
)

// Side tells which player of a session something belongs to
type Side int

const (
	SideNone Side = iota
	SideLocal
	SideOpponent
)

func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideOpponent:
		return "opponent"
	}
	return "none"
}

// Projectile is a shot travelling in a straight line
type Projectile struct {
	ID    string
	X, Y  float64
	Angle float64
	Speed float64
	Owner Side
}

// NewProjectile creates a shot at (x, y) heading along angle
func NewProjectile(id string, x, y, angle float64, owner Side) *Projectile {
	return &Projectile{ID: id, X: x, Y: y, Angle: angle, Speed: ProjectileSpeed, Owner: owner}
}

// ProjectileFromSnapshot creates the opponent-owned copy of a peer's shot
func ProjectileFromSnapshot(s *ProjectileSnapshot) *Projectile {
	speed := s.Speed
	if speed <= 0 {
		speed = ProjectileSpeed
	}
	return &Projectile{ID: s.ID, X: s.X, Y: s.Y, Angle: s.Angle, Speed: speed, Owner: SideOpponent}
}

// Step advances the projectile one frame
func (p *Projectile) Step() {
	p.X += math.Cos(p.Angle) * p.Speed
	p.Y += math.Sin(p.Angle) * p.Speed
}

// OutOfBounds reports whether the projectile left [0,w]x[0,h]
func (p *Projectile) OutOfBounds(w, h float64) bool {
	return p.X < 0 || p.X > w || p.Y < 0 || p.Y > h
}

// Hits reports whether the projectile overlaps box
func (p *Projectile) Hits(box Rect) bool {
	return CircleRectOverlap(p.X, p.Y, ProjectileRadius, box)
}

// Snapshot converts to the wire form
func (p *Projectile) Snapshot() *ProjectileSnapshot {
	return &ProjectileSnapshot{ID: p.ID, X: p.X, Y: p.Y, Angle: p.Angle, Speed: p.Speed}
}
