package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultFrameInterval     = 16 * time.Millisecond
	DefaultBroadcastInterval = 50 * time.Millisecond
	DefaultReadyResend       = 500 * time.Millisecond
)

// Input is one batch of local player input. Nil fields are left unchanged.
type Input struct {
	Intent *Intent
	Aim    *float64
	Fire   bool
}

// Controller drives the local player each frame (bots, tests)
type Controller func(s *Session)

// Renderer is called after every frame
type Renderer func(s *Session)

// RunnerConfig configures a Runner
type RunnerConfig struct {
	Session           *Session
	Channel           Channel
	Inputs            <-chan Input
	Controller        Controller
	Render            Renderer
	FrameInterval     time.Duration
	BroadcastInterval time.Duration
	ReadyResend       time.Duration
	Logger            zerolog.Logger
}

// Runner owns a Session and connects it to a Channel. All session access
// happens on the goroutine calling Run.
type Runner struct {
	cfg RunnerConfig
	log zerolog.Logger
}

// NewRunner creates a runner, filling zero intervals with defaults
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = DefaultBroadcastInterval
	}
	if cfg.ReadyResend <= 0 {
		cfg.ReadyResend = DefaultReadyResend
	}
	return &Runner{
		cfg: cfg,
		log: cfg.Logger.With().
			Str("component", "runner").
			Str("match", cfg.Session.Match().ID).
			Str("identity", cfg.Session.Identity()).
			Logger(),
	}
}

// Run plays the match until the session ends, the channel closes or ctx is
// done. The outcome is only meaningful with a nil error.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	s := r.cfg.Session
	frames := time.NewTicker(r.cfg.FrameInterval)
	defer frames.Stop()
	broadcast := time.NewTicker(r.cfg.BroadcastInterval)
	defer broadcast.Stop()
	ready := time.NewTicker(r.cfg.ReadyResend)
	defer ready.Stop()

	s.Start()
	r.flush(ctx)

	msgs := r.cfg.Channel.Messages()
	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()

		case m, ok := <-msgs:
			if !ok {
				return Outcome{}, ErrChannelClosed
			}
			prev := s.State()
			s.Handle(m)
			if prev == StateWaiting && s.State() == StatePlaying {
				r.log.Debug().Msg("peer ready, playing")
			}

		case in := <-r.cfg.Inputs:
			r.apply(in)

		case <-frames.C:
			if s.State() == StatePlaying && r.cfg.Controller != nil {
				r.cfg.Controller(s)
			}
			s.Step()
			if r.cfg.Render != nil {
				r.cfg.Render(s)
			}

		case <-broadcast.C:
			s.BroadcastState()

		case <-ready.C:
			s.ResendReady()
		}

		r.flush(ctx)
		if out, done := s.Outcome(); done {
			r.log.Info().
				Str("winner", out.Winner.String()).
				Str("reason", string(out.Reason)).
				Uint64("frame", out.Frame).
				Msg("match over")
			return out, nil
		}
	}
}

func (r *Runner) apply(in Input) {
	s := r.cfg.Session
	if in.Intent != nil {
		s.SetIntent(*in.Intent)
	}
	if in.Aim != nil {
		s.Aim(*in.Aim)
	}
	if in.Fire {
		s.Fire()
	}
}

// flush sends queued messages. Relay delivery is best-effort, so a failed
// send is logged and dropped.
func (r *Runner) flush(ctx context.Context) {
	for _, m := range r.cfg.Session.Drain() {
		if err := r.cfg.Channel.Send(ctx, m); err != nil {
			r.log.Warn().Err(err).Str("type", m.T).Msg("send")
		}
	}
}
