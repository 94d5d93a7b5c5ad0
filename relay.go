package main

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

const relayBufSize = 256

var errRelayClosed = eris.New("relay closed")

// Relay fans messages out to every subscriber of a topic. Delivery is
// best-effort: a subscriber that falls behind loses messages.
type Relay interface {
	Publish(ctx context.Context, topic string, m Message) error
	// Subscribe returns once the subscription is live, so anything published
	// afterwards is delivered to it.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription is one listener on a topic
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// MatchTopic returns the relay topic of a match
func MatchTopic(matchID string) string {
	return "arena:match:" + matchID
}

// MemoryRelay is a Relay inside one process
type MemoryRelay struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryRelay creates an empty in-process relay
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{topics: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	relay *MemoryRelay
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.relay.mu.Lock()
		defer s.relay.mu.Unlock()
		if subs, ok := s.relay.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.relay.topics, s.topic)
			}
		}
		close(s.ch)
	})
	return nil
}

// Publish delivers m to current subscribers of topic without blocking
func (r *MemoryRelay) Publish(_ context.Context, topic string, m Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errRelayClosed
	}
	for sub := range r.topics[topic] {
		select {
		case sub.ch <- m:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener on topic
func (r *MemoryRelay) Subscribe(_ context.Context, topic string) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRelayClosed
	}
	sub := &memorySub{relay: r, topic: topic, ch: make(chan Message, relayBufSize)}
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[*memorySub]struct{})
		r.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// Close ends every subscription
func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var subs []*memorySub
	for _, set := range r.topics {
		for s := range set {
			subs = append(subs, s)
		}
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic
func (r *MemoryRelay) Subscribers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
