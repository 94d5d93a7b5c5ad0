package main

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/vmihailenco/msgpack/v5"
)

// Peer -> peer message types carried on a match topic
const (
	MsgReady         = "ready"
	MsgPlayerUpdate  = "player_update"
	MsgShoot         = "shoot"
	MsgPowerUpSpawn  = "powerup_spawn"
	MsgPowerUpPickup = "powerup_pickup"
)

// Relay -> peer message types
const (
	MsgLeave = "leave" // presence: From disconnected
	MsgError = "error"
)

// PlayerSnapshot is the full local player state sent in player_update
type PlayerSnapshot struct {
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Health float64 `json:"hp" msgpack:"hp"`
	Speed  float64 `json:"sp" msgpack:"sp"`
	Facing float64 `json:"r" msgpack:"r"` // radians
	Up     bool    `json:"u,omitempty" msgpack:"u,omitempty"`
	Down   bool    `json:"d,omitempty" msgpack:"d,omitempty"`
	Left   bool    `json:"l,omitempty" msgpack:"l,omitempty"`
	Right  bool    `json:"rt,omitempty" msgpack:"rt,omitempty"`
}

// ProjectileSnapshot describes a shot fired by the sender
type ProjectileSnapshot struct {
	ID    string  `json:"id" msgpack:"id"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	Angle float64 `json:"a" msgpack:"a"`
	Speed float64 `json:"sp" msgpack:"sp"`
}

// PowerUpSnapshot describes a power-up spawned by role A
type PowerUpSnapshot struct {
	ID   string      `json:"id" msgpack:"id"`
	X    float64     `json:"x" msgpack:"x"`
	Y    float64     `json:"y" msgpack:"y"`
	Kind PowerUpKind `json:"k" msgpack:"k"`
}

// Valid reports whether every number in the snapshot is finite
func (p *PlayerSnapshot) Valid() bool {
	return finite(p.X, p.Y, p.Health, p.Speed, p.Facing)
}

// Valid reports whether the shot has finite numbers and an ID
func (p *ProjectileSnapshot) Valid() bool {
	return p.ID != "" && finite(p.X, p.Y, p.Angle, p.Speed)
}

// Valid reports whether the power-up has finite coordinates, an ID and a known kind
func (p *PowerUpSnapshot) Valid() bool {
	if p.Kind != PowerUpHealth && p.Kind != PowerUpSpeed {
		return false
	}
	return p.ID != "" && finite(p.X, p.Y)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Message is one frame on a match topic. Only the field matching T is set.
type Message struct {
	T    string `json:"t" msgpack:"t"`
	From string `json:"from,omitempty" msgpack:"from,omitempty"`
	// Seq increases with every message a sender publishes
	Seq uint64 `json:"seq,omitempty" msgpack:"seq,omitempty"`
	// Ack marks a ready sent in answer to the peer's ready; acks are not answered
	Ack        bool                `json:"ack,omitempty" msgpack:"ack,omitempty"`
	Player     *PlayerSnapshot     `json:"p,omitempty" msgpack:"p,omitempty"`
	Projectile *ProjectileSnapshot `json:"pr,omitempty" msgpack:"pr,omitempty"`
	PowerUp    *PowerUpSnapshot    `json:"pu,omitempty" msgpack:"pu,omitempty"`
	PowerUpID  string              `json:"pid,omitempty" msgpack:"pid,omitempty"`
	Error      string              `json:"msg,omitempty" msgpack:"msg,omitempty"`
}

// EncodeText encodes m as a JSON text frame
func EncodeText(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "encode json frame")
}

// EncodeBinary encodes m as a msgpack binary frame
func EncodeBinary(m Message) ([]byte, error) {
	b, err := msgpack.Marshal(&m)
	return b, eris.Wrap(err, "encode msgpack frame")
}

// DecodeFrame decodes a text (JSON) or binary (msgpack) frame
func DecodeFrame(binary bool, data []byte) (Message, error) {
	var m Message
	var err error
	if binary {
		err = msgpack.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return Message{}, eris.Wrap(err, "decode frame")
	}
	if m.T == "" {
		return Message{}, eris.New("frame without type")
	}
	return m, nil
}

// --- HTTP API bodies ---

// AuthRequest is the body of register and login
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by every auth endpoint
type AuthResponse struct {
	Token    string   `json:"token"`
	Identity Identity `json:"identity"`
}

// FinalizeRequest is the body of POST /api/matches/{id}/finalize
type FinalizeRequest struct {
	Winner string `json:"winner"`
}

// FinalizeResponse reports the stored result and whether this call wrote it
type FinalizeResponse struct {
	Match   *Match `json:"match"`
	Applied bool   `json:"applied"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error string `json:"error"`
}
