package main

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisRelay shares match topics between server instances over Redis pub/sub.
// Payloads are msgpack-encoded Messages.
type RedisRelay struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisRelay connects to Redis and verifies the connection
func NewRedisRelay(ctx context.Context, opts *redis.Options, log zerolog.Logger) (*RedisRelay, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(err, "ping redis at %s", opts.Addr)
	}
	return &RedisRelay{
		client: client,
		log:    log.With().Str("component", "relay").Str("backend", "redis").Logger(),
	}, nil
}

// Publish sends m to every subscriber of topic on any instance
func (r *RedisRelay) Publish(ctx context.Context, topic string, m Message) error {
	payload, err := msgpack.Marshal(&m)
	if err != nil {
		return eris.Wrap(err, "encode relay payload")
	}
	return eris.Wrapf(r.client.Publish(ctx, topic, payload).Err(), "publish to %s", topic)
}

// Subscribe waits for Redis to confirm the subscription before returning
func (r *RedisRelay) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, eris.Wrapf(err, "subscribe to %s", topic)
	}

	sub := &redisSub{
		ps:   ps,
		ch:   make(chan Message, relayBufSize),
		done: make(chan struct{}),
		log:  r.log.With().Str("topic", topic).Logger(),
	}
	go sub.forward()
	return sub, nil
}

// Close closes the Redis client and with it every subscription
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Message
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func (s *redisSub) Messages() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// forward decodes pub/sub payloads into the subscription channel until the
// PubSub is closed
func (s *redisSub) forward() {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var m Message
			if err := msgpack.Unmarshal([]byte(msg.Payload), &m); err != nil {
				s.log.Warn().Err(err).Msg("dropping undecodable payload")
				continue
			}
			select {
			case s.ch <- m:
			default:
				// subscriber is behind; at-most-once like the memory relay
			}
		}
	}
}
