package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Queue result statuses reported to clients
const (
	ResultQueued    = "queued"
	ResultMatched   = "matched"
	ResultNotQueued = "not_queued"
)

// maxPromoteRetries bounds how many lost promotion races one reconcile pass
// tolerates before giving up until the next tick.
const maxPromoteRetries = 8

// QueueResult is what join, poll and wait report to the caller
type QueueResult struct {
	Status  string `json:"status"`
	EntryID string `json:"entry_id,omitempty"`
	Match   *Match `json:"match,omitempty"`
}

// Matchmaker pairs queued identities into matches in join order
type Matchmaker struct {
	queue   QueueStore
	matches MatchStore
	settle  time.Duration
	log     zerolog.Logger
	tracker EventTracker
	now     func() time.Time

	// reconcile passes run one at a time per process
	mu sync.Mutex

	clockMu  sync.Mutex
	lastJoin int64

	waitMu  sync.Mutex
	waiters map[string][]chan struct{}
}

// MatchmakerConfig configures a Matchmaker
type MatchmakerConfig struct {
	Queue       QueueStore
	Matches     MatchStore
	SettleDelay time.Duration
	Logger      zerolog.Logger
	Tracker     EventTracker
}

// NewMatchmaker creates a matchmaker over the given stores
func NewMatchmaker(cfg MatchmakerConfig) *Matchmaker {
	return &Matchmaker{
		queue:   cfg.Queue,
		matches: cfg.Matches,
		settle:  cfg.SettleDelay,
		log:     cfg.Logger.With().Str("component", "matchmaker").Logger(),
		tracker: cfg.Tracker,
		now:     time.Now,
		waiters: make(map[string][]chan struct{}),
	}
}

// nextJoinKey returns a strictly increasing ordering key
func (mm *Matchmaker) nextJoinKey() int64 {
	mm.clockMu.Lock()
	defer mm.clockMu.Unlock()
	k := mm.now().UnixNano()
	if k <= mm.lastJoin {
		k = mm.lastJoin + 1
	}
	mm.lastJoin = k
	return k
}

func (mm *Matchmaker) track(evtType, identity, matchID string) {
	if mm.tracker != nil {
		mm.tracker.Track(evtType, identity, matchID, "")
	}
}

// Join enqueues identity, waits for concurrent joins to settle and then tries
// to pair the queue. A caller already waiting is re-queued at the back.
func (mm *Matchmaker) Join(ctx context.Context, identity string) (QueueResult, error) {
	if identity == "" {
		return QueueResult{}, ErrUnauthenticated
	}

	if err := mm.queue.DeleteQueued(ctx, identity); err != nil {
		return QueueResult{}, eris.Wrapf(ErrJoinQueue, "clear previous entries of %s: %v", identity, err)
	}
	entry, err := mm.queue.InsertEntry(ctx, QueueEntry{
		ID:         uuid.NewString(),
		Identity:   identity,
		Status:     QueueQueued,
		JoinedAt:   mm.nextJoinKey(),
		LastSeenAt: mm.now(),
	})
	if err != nil {
		return QueueResult{}, eris.Wrapf(ErrJoinQueue, "insert entry for %s: %v", identity, err)
	}
	mm.log.Debug().Str("identity", identity).Str("entry", entry.ID).Msg("joined queue")
	mm.track(EvtQueueJoin, identity, "")

	if err := sleepCtx(ctx, mm.settle); err != nil {
		return QueueResult{}, eris.Wrapf(ErrJoinQueue, "settle after join of %s: %v", identity, err)
	}
	if err := mm.Reconcile(ctx); err != nil {
		return QueueResult{}, err
	}
	return mm.resultFor(ctx, identity)
}

// Poll pairs what it can and reports the caller's current standing
func (mm *Matchmaker) Poll(ctx context.Context, identity string) (QueueResult, error) {
	if identity == "" {
		return QueueResult{}, ErrUnauthenticated
	}
	if err := mm.Reconcile(ctx); err != nil {
		return QueueResult{}, err
	}
	if err := mm.queue.TouchEntries(ctx, identity, mm.now()); err != nil {
		mm.log.Warn().Err(err).Str("identity", identity).Msg("touch queue entries")
	}
	return mm.resultFor(ctx, identity)
}

// Wait blocks until identity is paired by this process, timeout elapses or
// ctx is done, then answers like Poll.
func (mm *Matchmaker) Wait(ctx context.Context, identity string, timeout time.Duration) (QueueResult, error) {
	if identity == "" {
		return QueueResult{}, ErrUnauthenticated
	}
	ch := mm.addWaiter(identity)
	defer mm.removeWaiter(identity, ch)

	res, err := mm.Poll(ctx, identity)
	if err != nil || res.Status != ResultQueued {
		return res, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
	case <-ctx.Done():
		return res, nil
	}
	return mm.Poll(ctx, identity)
}

// Leave removes every queue entry of identity. Leaving twice is harmless.
func (mm *Matchmaker) Leave(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrUnauthenticated
	}
	if err := mm.queue.DeleteEntries(ctx, identity); err != nil {
		return eris.Wrapf(ErrLeaveQueue, "delete entries of %s: %v", identity, err)
	}
	mm.track(EvtQueueLeave, identity, "")
	mm.notify(identity)
	return nil
}

// Reconcile promotes queued entries pairwise in ascending join order until
// fewer than two remain.
func (mm *Matchmaker) Reconcile(ctx context.Context) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	lost := 0
	for {
		queued, err := mm.queue.ScanQueued(ctx)
		if err != nil {
			return eris.Wrapf(ErrFindMatches, "scan queue: %v", err)
		}
		if len(queued) < 2 {
			return nil
		}

		// a second instance raced the cleanup in Join; keep the newest entry
		// of every identity before pairing anyone
		if stale := olderDuplicates(queued); len(stale) > 0 {
			for _, e := range stale {
				if err := mm.queue.DeleteEntry(ctx, e.ID); err != nil {
					return eris.Wrapf(ErrFindMatches, "drop duplicate entry %s: %v", e.ID, err)
				}
				mm.log.Debug().Str("identity", e.Identity).Str("entry", e.ID).Msg("dropped duplicate entry")
			}
			continue
		}

		a, b := queued[0], queued[1]

		m := Match{
			ID:           uuid.NewString(),
			ParticipantA: a.Identity,
			ParticipantB: b.Identity,
			Status:       MatchActive,
			CreatedAt:    mm.now(),
		}
		ok, err := mm.queue.PromotePair(ctx, a, b, m)
		if err != nil {
			return eris.Wrapf(ErrFindMatches, "promote %s and %s: %v", a.ID, b.ID, err)
		}
		if !ok {
			lost++
			if lost >= maxPromoteRetries {
				mm.log.Warn().Int("retries", lost).Msg("giving up reconcile pass after lost promotions")
				return nil
			}
			continue
		}

		mm.log.Info().
			Str("match", m.ID).
			Str("a", m.ParticipantA).
			Str("b", m.ParticipantB).
			Msg("match created")
		mm.track(EvtMatchStart, m.ParticipantA, m.ID)
		mm.track(EvtMatchStart, m.ParticipantB, m.ID)
		mm.notify(a.Identity)
		mm.notify(b.Identity)
	}
}

// olderDuplicates returns the entries of queued (ordered oldest first) that
// are shadowed by a newer entry of the same identity
func olderDuplicates(queued []QueueEntry) []QueueEntry {
	var stale []QueueEntry
	seen := make(map[string]bool, len(queued))
	for i := len(queued) - 1; i >= 0; i-- {
		e := queued[i]
		if seen[e.Identity] {
			stale = append(stale, e)
			continue
		}
		seen[e.Identity] = true
	}
	return stale
}

// Sweep drops queued entries nobody has polled for within ttl
func (mm *Matchmaker) Sweep(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := mm.queue.SweepQueued(ctx, mm.now().Add(-ttl))
	if err != nil {
		return 0, eris.Wrap(err, "sweep stale entries")
	}
	if n > 0 {
		mm.log.Info().Int64("removed", n).Msg("swept stale queue entries")
	}
	return n, nil
}

// resultFor reads the caller's latest entry and the match it belongs to
func (mm *Matchmaker) resultFor(ctx context.Context, identity string) (QueueResult, error) {
	entry, err := mm.queue.LatestEntry(ctx, identity)
	if err != nil {
		return QueueResult{}, eris.Wrapf(ErrFindMatches, "read entry of %s: %v", identity, err)
	}
	if entry == nil {
		return QueueResult{Status: ResultNotQueued}, nil
	}
	if entry.Status != QueueMatched || entry.MatchID == "" {
		return QueueResult{Status: ResultQueued, EntryID: entry.ID}, nil
	}
	m, err := mm.matches.GetMatch(ctx, entry.MatchID)
	if err != nil {
		return QueueResult{}, eris.Wrapf(ErrFindMatches, "read match %s: %v", entry.MatchID, err)
	}
	if m == nil {
		return QueueResult{Status: ResultQueued, EntryID: entry.ID}, nil
	}
	return QueueResult{Status: ResultMatched, EntryID: entry.ID, Match: m}, nil
}

// --- waiters ---

func (mm *Matchmaker) addWaiter(identity string) chan struct{} {
	ch := make(chan struct{}, 1)
	mm.waitMu.Lock()
	mm.waiters[identity] = append(mm.waiters[identity], ch)
	mm.waitMu.Unlock()
	return ch
}

func (mm *Matchmaker) removeWaiter(identity string, ch chan struct{}) {
	mm.waitMu.Lock()
	defer mm.waitMu.Unlock()
	list := mm.waiters[identity]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(mm.waiters, identity)
	} else {
		mm.waiters[identity] = list
	}
}

// notify wakes every Wait call of identity
func (mm *Matchmaker) notify(identity string) {
	mm.waitMu.Lock()
	defer mm.waitMu.Unlock()
	for _, ch := range mm.waiters[identity] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
