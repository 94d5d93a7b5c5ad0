package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
	publishWait   = 5 * time.Second
)

// Room is the set of live connections on one match topic, one per identity
type Room struct {
	MatchID string
	members map[string]*Client
}

// Hub tracks websocket clients and the match rooms they belong to
type Hub struct {
	relay     Relay
	matches   MatchStore
	auth      *Auth
	analytics *Analytics
	log       zerolog.Logger

	mu         sync.RWMutex
	clients    map[*Client]bool
	rooms      map[string]*Room
	unregister chan *Client
	done       chan struct{}

	// Connection limiting (accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// HubConfig wires a Hub to its collaborators
type HubConfig struct {
	Relay     Relay
	Matches   MatchStore
	Auth      *Auth
	Analytics *Analytics
	Logger    zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		relay:      cfg.Relay,
		matches:    cfg.Matches,
		auth:       cfg.Auth,
		analytics:  cfg.Analytics,
		log:        cfg.Logger.With().Str("component", "hub").Logger(),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]*Room),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		ipConns:    make(map[string]int),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes unregister events until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.remove(client)
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.closeSend()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and disconnects every client
func (h *Hub) Stop() {
	close(h.done)
}

// add joins c to its match room. It runs on the upgrading goroutine, before
// any pump starts, so it always precedes the remove of the same client.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	room, ok := h.rooms[c.matchID]
	if !ok {
		room = &Room{MatchID: c.matchID, members: make(map[string]*Client)}
		h.rooms[c.matchID] = room
	}
	prev := room.members[c.identity.ID]
	room.members[c.identity.ID] = c
	h.mu.Unlock()

	if prev != nil {
		// newer connection wins; the old one leaves without a presence event
		h.log.Info().Str("match", c.matchID).Str("identity", c.identity.ID).Msg("connection replaced")
		prev.closeSend()
	}
	h.updateLive()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	current := false
	if room, ok := h.rooms[c.matchID]; ok && room.members[c.identity.ID] == c {
		current = true
		delete(room.members, c.identity.ID)
		if len(room.members) == 0 {
			delete(h.rooms, c.matchID)
		}
	}
	h.mu.Unlock()

	c.closeSend()
	c.sub.Close()

	if current {
		ctx, cancel := context.WithTimeout(context.Background(), publishWait)
		err := h.relay.Publish(ctx, MatchTopic(c.matchID), Message{T: MsgLeave, From: c.identity.ID})
		cancel()
		if err != nil {
			h.log.Warn().Err(err).Str("match", c.matchID).Msg("publish leave")
		}
	}
	h.updateLive()
}

func (h *Hub) updateLive() {
	if h.analytics == nil {
		return
	}
	h.mu.RLock()
	clients, rooms := len(h.clients), len(h.rooms)
	h.mu.RUnlock()
	h.analytics.SetLive(clients, rooms)
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomMembers returns the identities connected to a match
func (h *Hub) RoomMembers(matchID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[matchID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(room.members))
	for id := range room.members {
		out = append(out, id)
	}
	return out
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
