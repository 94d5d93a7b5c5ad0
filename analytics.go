package main

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Matchmaking events
const (
	EvtQueueJoin  = "queue_join"
	EvtQueueLeave = "queue_leave"
	EvtMatchStart = "match_start"
	EvtMatchEnd   = "match_end"
)

const (
	eventBuffer    = 1024
	eventBatchSize = 50
	eventFlushWait = 5 * time.Second
)

// EventTracker records events without blocking the caller
type EventTracker interface {
	Track(evtType, identity, matchID, data string)
}

type trackedEvent struct {
	kind     string
	identity string
	matchID  string
	data     string // optional JSON
	at       time.Time
}

// Analytics persists matchmaking events in batches and keeps the live gauges
type Analytics struct {
	db     *DB
	log    zerolog.Logger
	events chan trackedEvent
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu          sync.RWMutex
	connections int
	liveMatches int
}

// NewAnalytics starts the background writer. A nil db keeps only the gauges.
func NewAnalytics(db *DB, log zerolog.Logger) *Analytics {
	a := &Analytics{
		db:     db,
		log:    log.With().Str("component", "analytics").Logger(),
		events: make(chan trackedEvent, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Track queues an event; it is dropped when the buffer is full
func (a *Analytics) Track(evtType, identity, matchID, data string) {
	ev := trackedEvent{kind: evtType, identity: identity, matchID: matchID, data: data, at: time.Now().UTC()}
	select {
	case a.events <- ev:
	default:
		a.log.Debug().Str("event", evtType).Msg("event buffer full")
	}
}

// SetLive updates the connection and live match gauges
func (a *Analytics) SetLive(connections, matches int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connections, a.liveMatches = connections, matches
}

// GetLiveMetrics returns the connection and live match gauges
func (a *Analytics) GetLiveMetrics() (int, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connections, a.liveMatches
}

// Stop writes what is still buffered and ends the writer
func (a *Analytics) Stop() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

func (a *Analytics) run() {
	defer close(a.done)

	var pending []trackedEvent
	ticker := time.NewTicker(eventFlushWait)
	defer ticker.Stop()

	for {
		select {
		case ev := <-a.events:
			pending = append(pending, ev)
			if len(pending) >= eventBatchSize {
				a.write(pending)
				pending = nil
			}
		case <-ticker.C:
			a.write(pending)
			pending = nil
		case <-a.stop:
			for {
				select {
				case ev := <-a.events:
					pending = append(pending, ev)
					continue
				default:
				}
				break
			}
			a.write(pending)
			return
		}
	}
}

// write stores a batch in one transaction
func (a *Analytics) write(batch []trackedEvent) {
	if a.db == nil || len(batch) == 0 {
		return
	}
	if err := a.insert(batch); err != nil {
		a.log.Error().Err(err).Int("events", len(batch)).Msg("write events")
	}
}

func (a *Analytics) insert(batch []trackedEvent) error {
	tx, err := a.db.conn.Begin()
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, identity, match_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "prepare")
	}
	defer stmt.Close()

	for _, ev := range batch {
		_, err := stmt.Exec(ev.kind, nullable(ev.identity), nullable(ev.matchID), nullable(ev.data), ev.at.Format(time.RFC3339))
		if err != nil {
			return eris.Wrapf(err, "insert %s", ev.kind)
		}
	}
	return eris.Wrap(tx.Commit(), "commit")
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// since is the RFC3339 cutoff for "the last days days"
func since(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
}

// ActiveCount returns how many identities produced an event in the last days
func (a *Analytics) ActiveCount(ctx context.Context, days int) (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var n int
	err := a.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT identity) FROM analytics_events WHERE identity IS NOT NULL AND created_at >= ?`,
		since(days),
	).Scan(&n)
	return n, eris.Wrap(err, "count active identities")
}

// EventCounts returns the number of events per type in the last days
func (a *Analytics) EventCounts(ctx context.Context, days int) (map[string]int, error) {
	counts := make(map[string]int)
	if a.db == nil {
		return counts, nil
	}
	rows, err := a.db.conn.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM analytics_events WHERE created_at >= ? GROUP BY event_type`,
		since(days),
	)
	if err != nil {
		return nil, eris.Wrap(err, "count events")
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, eris.Wrap(err, "scan event count")
		}
		counts[kind] = n
	}
	return counts, eris.Wrap(rows.Err(), "event count rows")
}

// DayCount is a per-day total
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// DailyMatches returns finished matches per day in the last days
func (a *Analytics) DailyMatches(ctx context.Context, days int) ([]DayCount, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day, COUNT(DISTINCT match_id)
		FROM analytics_events
		WHERE event_type = ? AND created_at >= ?
		GROUP BY day ORDER BY day`,
		EvtMatchEnd, since(days),
	)
	if err != nil {
		return nil, eris.Wrap(err, "count daily matches")
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, eris.Wrap(err, "scan daily matches")
		}
		out = append(out, dc)
	}
	return out, eris.Wrap(rows.Err(), "daily match rows")
}
