package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

const (
	maxWait           = 30 * time.Second
	leaderboardLimit  = 50
	maxLeaderboardLen = 200
	inviteQRSize      = 256
)

// API serves the HTTP endpoints around the matchmaker
type API struct {
	auth      *Auth
	mm        *Matchmaker
	finalizer *Finalizer
	stats     StatsStore
	matches   MatchStore
	analytics *Analytics
	cfg       Config
	log       zerolog.Logger
}

// APIConfig wires an API to its collaborators
type APIConfig struct {
	Auth       *Auth
	Matchmaker *Matchmaker
	Finalizer  *Finalizer
	Stats      StatsStore
	Matches    MatchStore
	Analytics  *Analytics
	Config     Config
	Logger     zerolog.Logger
}

// NewAPI creates the HTTP API
func NewAPI(c APIConfig) *API {
	return &API{
		auth:      c.Auth,
		mm:        c.Matchmaker,
		finalizer: c.Finalizer,
		stats:     c.Stats,
		matches:   c.Matches,
		analytics: c.Analytics,
		cfg:       c.Config,
		log:       c.Logger.With().Str("component", "api").Logger(),
	}
}

// NewHandler builds the router for the API, the relay websocket and the
// static client, wrapped in CORS
func NewHandler(api *API, hub *Hub) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)

	authRouter := r.PathPrefix("/api/auth").Subrouter()
	authRouter.HandleFunc("/guest", api.handleGuest).Methods(http.MethodPost)
	authRouter.HandleFunc("/register", api.handleRegister).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", api.handleLogin).Methods(http.MethodPost)

	queueRouter := r.PathPrefix("/api/queue").Subrouter()
	queueRouter.HandleFunc("", api.handleJoin).Methods(http.MethodPost)
	queueRouter.HandleFunc("", api.handlePoll).Methods(http.MethodGet)
	queueRouter.HandleFunc("", api.handleLeave).Methods(http.MethodDelete)

	matchRouter := r.PathPrefix("/api/matches").Subrouter()
	matchRouter.HandleFunc("/{id}", api.handleGetMatch).Methods(http.MethodGet)
	matchRouter.HandleFunc("/{id}/finalize", api.handleFinalize).Methods(http.MethodPost)
	matchRouter.HandleFunc("/{id}/invite.png", api.handleInviteQR).Methods(http.MethodGet)

	r.HandleFunc("/api/leaderboard", api.handleLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/api/players/{id}/stats", api.handlePlayerStats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/events", api.handleEventStats).Methods(http.MethodGet)

	r.HandleFunc("/ws", hub.ServeWS)

	if api.cfg.ClientDir != "" {
		r.PathPrefix("/").Handler(staticHandler(api.cfg.ClientDir, api.log))
	}

	return cors.New(cors.Options{
		AllowedOrigins:   api.cfg.Origins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a caller-safe message
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := httpError(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().
			Str("path", r.URL.Path).
			Str("error", eris.ToString(err, false)).
			Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (a *API) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, err := a.auth.IdentityFromRequest(r)
	if err != nil {
		a.writeError(w, r, err)
		return Identity{}, false
	}
	return id, true
}

// --- auth ---

func (a *API) handleGuest(w http.ResponseWriter, r *http.Request) {
	id, token, err := a.auth.Guest(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, Identity: id})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
		return
	}
	id, token, err := a.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, Identity: id})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
		return
	}
	id, token, err := a.auth.Login(r.Context(), req.Username, req.Password, extractIP(r))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, Identity: id})
}

func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, ErrUsernameLength), eris.Is(err, ErrPasswordLength):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case eris.Is(err, ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case eris.Is(err, ErrBadCredentials):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case eris.Is(err, ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: err.Error()})
	default:
		a.writeError(w, r, err)
	}
}

// --- queue ---

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	res, err := a.mm.Join(r.Context(), id.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePoll answers right away, or long-polls when ?wait=<duration> is set
func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}

	var res QueueResult
	var err error
	if wait := r.URL.Query().Get("wait"); wait != "" {
		d, perr := time.ParseDuration(wait)
		if perr != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid wait duration"})
			return
		}
		if d > maxWait {
			d = maxWait
		}
		res, err = a.mm.Wait(r.Context(), id.ID, d)
	} else {
		res, err = a.mm.Poll(r.Context(), id.ID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.mm.Leave(r.Context(), id.ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResult{Status: ResultNotQueued})
}

// --- matches ---

func (a *API) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.identity(w, r); !ok {
		return
	}
	matchID := mux.Vars(r)["id"]
	m, err := a.matches.GetMatch(r.Context(), matchID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if m == nil {
		a.writeError(w, r, ErrMatchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
		return
	}
	m, applied, err := a.finalizer.Finalize(r.Context(), mux.Vars(r)["id"], id.ID, req.Winner)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{Match: m, Applied: applied})
}

// handleInviteQR renders the match page URL as a QR code for a phone to open
func (a *API) handleInviteQR(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]
	m, err := a.matches.GetMatch(r.Context(), matchID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if m == nil {
		a.writeError(w, r, ErrMatchNotFound)
		return
	}

	png, err := qrcode.Encode(a.matchURL(r, m.ID), qrcode.Medium, inviteQRSize)
	if err != nil {
		a.writeError(w, r, eris.Wrap(err, "encode qr"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}

func (a *API) matchURL(r *http.Request, matchID string) string {
	base := strings.TrimSuffix(a.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/match/" + matchID
}

// --- stats ---

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := leaderboardLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxLeaderboardLen)
	}
	entries, err := a.stats.GetLeaderboard(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["id"]
	s, err := a.stats.GetStats(r.Context(), identity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if s == nil {
		s = &StatsRow{Identity: identity}
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleEventStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && v > 0 && v <= 365 {
		days = v
	}
	counts, err := a.analytics.EventCounts(r.Context(), days)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	active, err := a.analytics.ActiveCount(r.Context(), days)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	daily, err := a.analytics.DailyMatches(r.Context(), days)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	conns, rooms := a.analytics.GetLiveMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"days":          days,
		"events":        counts,
		"active":        active,
		"daily_matches": daily,
		"connections":   conns,
		"live_matches":  rooms,
	})
}
