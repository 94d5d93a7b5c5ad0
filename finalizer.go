package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Finalizer records the terminal result of a match. The first accepted write
// is durable; later calls see the stored result.
type Finalizer struct {
	matches MatchStore
	log     zerolog.Logger
	tracker EventTracker
	now     func() time.Time
}

// NewFinalizer creates a finalizer over the match store
func NewFinalizer(matches MatchStore, log zerolog.Logger, tracker EventTracker) *Finalizer {
	return &Finalizer{
		matches: matches,
		log:     log.With().Str("component", "finalizer").Logger(),
		tracker: tracker,
		now:     time.Now,
	}
}

// Finalize completes the match with winner on behalf of caller. applied
// reports whether this call wrote the result.
func (f *Finalizer) Finalize(ctx context.Context, matchID, caller, winner string) (*Match, bool, error) {
	if caller == "" {
		return nil, false, ErrUnauthenticated
	}
	m, err := f.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, false, eris.Wrapf(ErrFinalize, "read match %s: %v", matchID, err)
	}
	if m == nil {
		return nil, false, eris.Wrapf(ErrMatchNotFound, "match %s", matchID)
	}
	if !m.HasParticipant(caller) {
		return nil, false, eris.Wrapf(ErrNotParticipant, "%s in match %s", caller, matchID)
	}
	if !m.HasParticipant(winner) {
		return nil, false, eris.Wrapf(ErrInvalidWinner, "%q in match %s", winner, matchID)
	}
	if m.Status == MatchCompleted {
		return m, false, nil
	}

	loser := m.Opponent(winner)
	applied, err := f.matches.CompleteMatch(ctx, matchID, winner, loser, f.now())
	if err != nil {
		return nil, false, eris.Wrapf(ErrFinalize, "complete match %s: %v", matchID, err)
	}

	stored, err := f.matches.GetMatch(ctx, matchID)
	if err != nil || stored == nil {
		return nil, false, eris.Wrapf(ErrFinalize, "re-read match %s: %v", matchID, err)
	}
	if applied {
		f.log.Info().
			Str("match", matchID).
			Str("winner", winner).
			Str("reported_by", caller).
			Msg("match finalized")
		if f.tracker != nil {
			data := fmt.Sprintf(`{"winner":%q,"duration":%.1f}`, winner, f.now().Sub(m.CreatedAt).Seconds())
			f.tracker.Track(EvtMatchEnd, caller, matchID, data)
		}
	}
	return stored, applied, nil
}
