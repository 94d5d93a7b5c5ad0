package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const botWait = 20 * time.Second

// BotClient plays one match against whoever is next in the queue, using the
// public HTTP API and the relay websocket like a browser would.
type BotClient struct {
	server string
	http   *http.Client
	log    zerolog.Logger
	rng    *rand.Rand

	token    string
	identity Identity
}

// NewBotClient creates a bot for the server at serverURL
func NewBotClient(serverURL string, log zerolog.Logger) *BotClient {
	return &BotClient{
		server: strings.TrimSuffix(serverURL, "/"),
		http:   &http.Client{Timeout: botWait + 10*time.Second},
		log:    log.With().Str("component", "bot").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Play authenticates as a guest, queues, plays the match and reports the result
func (b *BotClient) Play(ctx context.Context) (*Match, error) {
	var auth AuthResponse
	if err := b.call(ctx, http.MethodPost, "/api/auth/guest", nil, &auth); err != nil {
		return nil, eris.Wrap(err, "guest login")
	}
	b.token, b.identity = auth.Token, auth.Identity
	b.log = b.log.With().Str("identity", b.identity.ID).Logger()
	b.log.Info().Str("name", b.identity.Name).Msg("joined as guest")

	match, err := b.findMatch(ctx)
	if err != nil {
		return nil, err
	}
	b.log.Info().Str("match", match.ID).Str("opponent", match.Opponent(b.identity.ID)).Msg("matched")

	ch, err := DialChannel(ctx, b.server, b.token, match.ID)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	sess, err := NewSession(SessionConfig{Match: match, Identity: b.identity.ID, Rand: b.rng})
	if err != nil {
		return nil, err
	}
	runner := NewRunner(RunnerConfig{
		Session:    sess,
		Channel:    ch,
		Controller: b.control,
		Logger:     b.log,
	})
	if _, err := runner.Run(ctx); err != nil {
		return nil, eris.Wrap(err, "play match")
	}

	var res FinalizeResponse
	body := FinalizeRequest{Winner: sess.WinnerIdentity()}
	if err := b.call(ctx, http.MethodPost, "/api/matches/"+match.ID+"/finalize", body, &res); err != nil {
		return nil, eris.Wrap(err, "finalize")
	}
	b.log.Info().Str("winner", res.Match.Winner).Bool("applied", res.Applied).Msg("match recorded")
	return res.Match, nil
}

// findMatch joins the queue and long-polls until paired
func (b *BotClient) findMatch(ctx context.Context) (*Match, error) {
	var res QueueResult
	if err := b.call(ctx, http.MethodPost, "/api/queue", nil, &res); err != nil {
		return nil, eris.Wrap(err, "join queue")
	}
	for res.Status != ResultMatched {
		if res.Status == ResultNotQueued {
			return nil, eris.New("removed from queue")
		}
		if err := b.call(ctx, http.MethodGet, "/api/queue?wait="+botWait.String(), nil, &res); err != nil {
			return nil, eris.Wrap(err, "wait for match")
		}
	}
	return res.Match, nil
}

// control follows the opponent vertically, aims at it and fires when possible
func (b *BotClient) control(s *Session) {
	me, them := s.Local, s.Opponent
	dy := them.Y - me.Y
	s.SetIntent(Intent{
		Up:    dy < -BaseSpeed,
		Down:  dy > BaseSpeed,
		Left:  b.rng.Intn(20) == 0,
		Right: b.rng.Intn(20) == 0,
	})
	s.Aim(math.Atan2(them.Y-me.Y, them.X-me.X))
	s.Fire()
}

func (b *BotClient) call(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "encode body")
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.server+path, rd)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		return eris.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
