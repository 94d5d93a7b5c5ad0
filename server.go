package main

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var uuidPathRe = regexp.MustCompile(`^/match/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeWS bridges a participant's websocket onto the match topic.
// GET /ws?match=<id>&token=<jwt>[&codec=msgpack]
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := extractIP(r)
	if !h.CanAccept(ip) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	id, err := h.auth.IdentityFromRequest(r)
	if err != nil {
		status, msg := httpError(err)
		http.Error(w, msg, status)
		return
	}
	matchID := r.URL.Query().Get("match")
	m, err := h.matches.GetMatch(r.Context(), matchID)
	if err != nil {
		h.log.Error().Err(err).Str("match", matchID).Msg("read match")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if m == nil {
		http.Error(w, ErrMatchNotFound.Error(), http.StatusNotFound)
		return
	}
	if !m.HasParticipant(id.ID) {
		http.Error(w, ErrNotParticipant.Error(), http.StatusForbidden)
		return
	}
	if m.Status == MatchCompleted {
		http.Error(w, "match already completed", http.StatusConflict)
		return
	}

	// subscribe before the upgrade so a connected client never misses the peer's ready
	// the subscription outlives the request context once the connection is hijacked
	subCtx, cancel := context.WithTimeout(context.Background(), publishWait)
	sub, err := h.relay.Subscribe(subCtx, MatchTopic(matchID))
	cancel()
	if err != nil {
		h.log.Error().Err(err).Str("match", matchID).Msg("subscribe")
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade")
		sub.Close()
		return
	}

	h.TrackConnect(ip)

	client := NewClient(h, conn, sub, id, matchID, ip, r.URL.Query().Get("codec") == "msgpack")
	h.add(client)

	go client.WritePump()
	go client.RelayPump()
	go client.ReadPump()
}

// staticHandler serves the browser client with no-cache so browsers always revalidate
func staticHandler(clientDir string, log zerolog.Logger) http.Handler {
	fs := http.FileServer(http.Dir(clientDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		// SPA: serve index.html for root and match pages
		if r.URL.Path == "/" || uuidPathRe.MatchString(r.URL.Path) {
			http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
			return
		}
		log.Debug().Str("path", r.URL.Path).Msg("static")
		fs.ServeHTTP(w, r)
	})
}
