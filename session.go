package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
)

// SessionState is the lifecycle state of a match session
type SessionState int

const (
	StateWaiting SessionState = iota
	StatePlaying
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Role is the seat of a participant; it fixes the spawn and who spawns power-ups
type Role int

const (
	RoleA Role = iota
	RoleB
)

// OutcomeReason tells how a session ended
type OutcomeReason string

const (
	OutcomeKnockout OutcomeReason = "knockout"
	OutcomeForfeit  OutcomeReason = "forfeit"
)

// Outcome is the result a session observed
type Outcome struct {
	Winner Side
	Reason OutcomeReason
	Frame  uint64
}

// SessionConfig configures a Session
type SessionConfig struct {
	Match    *Match
	Identity string
	// Rand drives the power-up spawner; nil seeds from the clock
	Rand *rand.Rand
}

// Session is one participant's view of a match. It is not safe for
// concurrent use; a Runner owns it.
type Session struct {
	match    *Match
	identity string
	opponent string
	role     Role
	state    SessionState

	Local    *PlayerState
	Opponent *PlayerState

	projectiles []*Projectile
	powerUps    []PowerUp
	spawner     *powerUpSpawner

	frame     uint64
	fireCD    int
	nextID    int
	peerReady bool
	peerSeq   uint64 // highest player_update seq applied
	seq       uint64
	outbox    []Message
	outcome   *Outcome
}

// NewSession creates the session of identity in m
func NewSession(cfg SessionConfig) (*Session, error) {
	m := cfg.Match
	if m == nil {
		return nil, eris.New("session needs a match")
	}
	if !m.HasParticipant(cfg.Identity) {
		return nil, eris.Wrapf(ErrNotParticipant, "%s in match %s", cfg.Identity, m.ID)
	}
	role := RoleA
	if cfg.Identity == m.ParticipantB {
		role = RoleB
	}
	peerRole := RoleB
	if role == RoleB {
		peerRole = RoleA
	}

	s := &Session{
		match:    m,
		identity: cfg.Identity,
		opponent: m.Opponent(cfg.Identity),
		role:     role,
		state:    StateWaiting,
		Local:    NewPlayerState(role),
		Opponent: NewPlayerState(peerRole),
	}
	if role == RoleA {
		rng := cfg.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		s.spawner = newPowerUpSpawner(rng, 0)
	}
	return s, nil
}

func (s *Session) State() SessionState        { return s.state }
func (s *Session) Role() Role                 { return s.role }
func (s *Session) Identity() string           { return s.identity }
func (s *Session) OpponentID() string         { return s.opponent }
func (s *Session) Match() *Match              { return s.match }
func (s *Session) Frame() uint64              { return s.frame }
func (s *Session) Projectiles() []*Projectile { return s.projectiles }
func (s *Session) PowerUps() []PowerUp        { return s.powerUps }
func (s *Session) PeerReady() bool            { return s.peerReady }

// Outcome returns the result once the session has ended
func (s *Session) Outcome() (Outcome, bool) {
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// WinnerIdentity maps the outcome to the identity to report to the finalizer
func (s *Session) WinnerIdentity() string {
	if s.outcome == nil {
		return ""
	}
	if s.outcome.Winner == SideLocal {
		return s.identity
	}
	return s.opponent
}

// Start announces readiness; call it once the channel is subscribed
func (s *Session) Start() {
	s.queue(Message{T: MsgReady})
}

// ResendReady repeats the announcement while the peer has not been heard
func (s *Session) ResendReady() {
	if s.state == StateWaiting {
		s.queue(Message{T: MsgReady})
	}
}

// SetIntent replaces the local movement input
func (s *Session) SetIntent(in Intent) {
	s.Local.Intent = in
}

// Aim turns the local player toward angle (radians)
func (s *Session) Aim(angle float64) {
	s.Local.Facing = math.Remainder(angle, 2*math.Pi)
}

// Fire shoots along the facing angle unless the gun is cooling down
func (s *Session) Fire() bool {
	if s.state != StatePlaying || s.fireCD > 0 {
		return false
	}
	s.fireCD = FireCooldownFrames
	p := NewProjectile(s.newID("p"), s.Local.X, s.Local.Y, s.Local.Facing, SideLocal)
	s.projectiles = append(s.projectiles, p)
	s.queue(Message{T: MsgShoot, Projectile: p.Snapshot()})
	return true
}

// BroadcastState queues the local player snapshot
func (s *Session) BroadcastState() {
	if s.state == StatePlaying {
		s.queue(Message{T: MsgPlayerUpdate, Player: s.Local.Snapshot()})
	}
}

// Handle applies a message received on the match topic
func (s *Session) Handle(m Message) {
	if s.state == StateEnded || m.From == s.identity || m.From != s.opponent {
		return
	}

	switch m.T {
	case MsgReady:
		if !m.Ack {
			s.queue(Message{T: MsgReady, Ack: true})
		}
		s.peerReady = true
		if s.state == StateWaiting {
			s.state = StatePlaying
		}

	case MsgPlayerUpdate:
		if m.Player == nil || !m.Player.Valid() {
			return
		}
		if m.Seq != 0 && m.Seq <= s.peerSeq {
			return
		}
		s.peerSeq = m.Seq
		s.Opponent.ApplySnapshot(m.Player)
		if s.state == StatePlaying && !s.Opponent.Alive() {
			s.end(SideLocal, OutcomeKnockout)
		}

	case MsgShoot:
		if m.Projectile == nil || !m.Projectile.Valid() {
			return
		}
		s.projectiles = append(s.projectiles, ProjectileFromSnapshot(m.Projectile))

	case MsgPowerUpSpawn:
		if m.PowerUp == nil || !m.PowerUp.Valid() || s.hasPowerUp(m.PowerUp.ID) {
			return
		}
		s.powerUps = append(s.powerUps, PowerUpFromSnapshot(m.PowerUp))

	case MsgPowerUpPickup:
		s.removePowerUp(m.PowerUpID)

	case MsgLeave:
		s.end(SideLocal, OutcomeForfeit)
	}
}

// Step runs one simulation frame
func (s *Session) Step() {
	if s.state != StatePlaying {
		return
	}
	s.frame++
	if s.fireCD > 0 {
		s.fireCD--
	}

	s.Local.Move()
	s.Local.TickBoost()

	for _, p := range s.projectiles {
		p.Step()
	}

	box := s.Local.Hitbox()
	kept := s.projectiles[:0]
	for _, p := range s.projectiles {
		if p.Owner == SideOpponent && p.Hits(box) {
			s.Local.TakeDamage(ProjectileDamage)
			continue
		}
		kept = append(kept, p)
	}
	s.projectiles = kept

	for i := 0; i < len(s.powerUps); {
		pu := s.powerUps[i]
		if !pu.Touches(s.Local) {
			i++
			continue
		}
		pu.Apply(s.Local)
		s.powerUps = append(s.powerUps[:i], s.powerUps[i+1:]...)
		s.queue(Message{T: MsgPowerUpPickup, PowerUpID: pu.ID})
	}

	kept = s.projectiles[:0]
	for _, p := range s.projectiles {
		if !p.OutOfBounds(ArenaWidth, ArenaHeight) {
			kept = append(kept, p)
		}
	}
	s.projectiles = kept

	if s.spawner != nil {
		if pu, ok := s.spawner.tick(s.frame, len(s.powerUps)); ok {
			pu.ID = s.newID("u")
			s.powerUps = append(s.powerUps, pu)
			s.queue(Message{T: MsgPowerUpSpawn, PowerUp: pu.Snapshot()})
		}
	}

	if !s.Local.Alive() {
		// the peer learns about its win from our last snapshot
		s.queue(Message{T: MsgPlayerUpdate, Player: s.Local.Snapshot()})
		s.end(SideOpponent, OutcomeKnockout)
	}
}

// Drain returns and clears the messages queued for the peer
func (s *Session) Drain() []Message {
	out := s.outbox
	s.outbox = nil
	return out
}

// queue stamps sender and sequence and stores m for the next flush
func (s *Session) queue(m Message) {
	s.seq++
	m.Seq = s.seq
	m.From = s.identity
	s.outbox = append(s.outbox, m)
}

func (s *Session) end(winner Side, reason OutcomeReason) {
	if s.state == StateEnded {
		return
	}
	s.state = StateEnded
	s.outcome = &Outcome{Winner: winner, Reason: reason, Frame: s.frame}
}

func (s *Session) newID(prefix string) string {
	s.nextID++
	r := "a"
	if s.role == RoleB {
		r = "b"
	}
	return fmt.Sprintf("%s%s%d", prefix, r, s.nextID)
}

func (s *Session) hasPowerUp(id string) bool {
	for _, pu := range s.powerUps {
		if pu.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) removePowerUp(id string) {
	for i, pu := range s.powerUps {
		if pu.ID == id {
			s.powerUps = append(s.powerUps[:i], s.powerUps[i+1:]...)
			return
		}
	}
}
