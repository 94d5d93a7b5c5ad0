package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

// Auth errors whose text is safe to show to the caller
var (
	ErrUsernameLength  = eris.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	ErrPasswordLength  = eris.Errorf("password must be at least %d characters", minPasswordLen)
	ErrUsernameTaken   = eris.New("username already taken")
	ErrBadCredentials  = eris.New("invalid username or password")
	ErrTooManyAttempts = eris.New("too many login attempts, try again later")
	ErrInvalidToken    = eris.New("invalid token")
)

// Identity is the authenticated caller. ID is opaque to the matchmaker.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Guest bool   `json:"guest"`
}

// Auth issues and validates identity tokens
type Auth struct {
	db        *DB
	jwtSecret []byte
	log       zerolog.Logger

	// IP -> login attempts
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates an Auth. An empty secret is loaded from (or generated
// into) the settings table.
func NewAuth(db *DB, secret string, log zerolog.Logger) *Auth {
	a := &Auth{
		db:      db,
		log:     log.With().Str("component", "auth").Logger(),
		rateMap: make(map[string]*rateEntry),
	}
	if secret != "" {
		a.jwtSecret = []byte(secret)
	} else {
		a.jwtSecret = a.loadOrCreateSecret()
	}
	return a
}

func (a *Auth) loadOrCreateSecret() []byte {
	if a.db != nil {
		if h := a.db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if a.db != nil {
		if err := a.db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			a.log.Warn().Err(err).Msg("could not persist JWT secret")
		}
	}
	return secret
}

// Guest creates an anonymous identity
func (a *Auth) Guest(ctx context.Context) (Identity, string, error) {
	id := Identity{ID: uuid.NewString(), Name: GenerateGuestName(), Guest: true}
	if err := a.db.CreatePlayer(ctx, id.ID, id.Name, "", true); err != nil {
		return Identity{}, "", eris.Wrap(err, "create guest")
	}
	token, err := a.generateToken(id)
	return id, token, err
}

// Register creates a new account
func (a *Auth) Register(ctx context.Context, username, password string) (Identity, string, error) {
	username = strings.TrimSpace(username)

	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return Identity{}, "", ErrUsernameLength
	}
	if len(password) < minPasswordLen {
		return Identity{}, "", ErrPasswordLength
	}

	exists, err := a.db.UsernameExists(ctx, username)
	if err != nil {
		return Identity{}, "", err
	}
	if exists {
		return Identity{}, "", ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Identity{}, "", eris.Wrap(err, "hash password")
	}

	id := Identity{ID: uuid.NewString(), Name: username}
	if err := a.db.CreatePlayer(ctx, id.ID, username, string(hash), false); err != nil {
		return Identity{}, "", eris.Wrap(err, "create account")
	}
	token, err := a.generateToken(id)
	return id, token, err
}

// Login authenticates a user and returns a JWT
func (a *Auth) Login(ctx context.Context, username, password, ip string) (Identity, string, error) {
	if !a.checkRate(ip) {
		return Identity{}, "", ErrTooManyAttempts
	}

	player, err := a.db.GetPlayerByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return Identity{}, "", err
	}
	if player == nil || player.Guest || player.PassHash == "" {
		return Identity{}, "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(player.PassHash), []byte(password)); err != nil {
		return Identity{}, "", ErrBadCredentials
	}

	id := Identity{ID: player.ID, Name: player.Username}
	token, err := a.generateToken(id)
	return id, token, err
}

// ValidateToken validates a JWT and returns the identity it carries
func (a *Auth) ValidateToken(tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, eris.Wrap(ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["usr"].(string)
	guest, _ := claims["gst"].(bool)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ID: sub, Name: name, Guest: guest}, nil
}

// IdentityFromRequest reads the bearer token (or ?token=) of r
func (a *Auth) IdentityFromRequest(r *http.Request) (Identity, error) {
	tok := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimPrefix(h, "Bearer ")
	}
	if tok == "" {
		return Identity{}, ErrUnauthenticated
	}
	id, err := a.ValidateToken(tok)
	if err != nil {
		return Identity{}, eris.Wrap(ErrUnauthenticated, err.Error())
	}
	return id, nil
}

func (a *Auth) generateToken(id Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.ID,
		"usr": id.Name,
		"gst": id.Guest,
		"exp": now.Add(jwtExpiry).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(a.jwtSecret)
	return s, eris.Wrap(err, "sign token")
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}

// GenerateGuestName creates a guest name like "Guest_a3f2c1"
func GenerateGuestName() string {
	return "Guest_" + GenerateID(3)
}
