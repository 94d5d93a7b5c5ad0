package main

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
)

// Channel is one participant's view of a match topic
type Channel interface {
	Send(ctx context.Context, m Message) error
	// Messages is closed when the channel is closed or the transport fails
	Messages() <-chan Message
	Close() error
}

// relayChannel talks to a Relay directly, for clients inside the server process
type relayChannel struct {
	relay    Relay
	sub      Subscription
	topic    string
	identity string
	once     sync.Once
}

// OpenChannel subscribes identity to the match topic. The subscription is live
// when OpenChannel returns.
func OpenChannel(ctx context.Context, relay Relay, matchID, identity string) (Channel, error) {
	topic := MatchTopic(matchID)
	sub, err := relay.Subscribe(ctx, topic)
	if err != nil {
		return nil, eris.Wrapf(err, "open channel on match %s", matchID)
	}
	return &relayChannel{relay: relay, sub: sub, topic: topic, identity: identity}, nil
}

func (c *relayChannel) Send(ctx context.Context, m Message) error {
	m.From = c.identity
	return c.relay.Publish(ctx, c.topic, m)
}

func (c *relayChannel) Messages() <-chan Message { return c.sub.Messages() }

// Close unsubscribes and announces the departure to the peer
func (c *relayChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.sub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), publishWait)
		defer cancel()
		if perr := c.relay.Publish(ctx, c.topic, Message{T: MsgLeave, From: c.identity}); perr != nil && err == nil {
			err = perr
		}
	})
	return err
}

// wsChannel talks to a server's /ws endpoint with msgpack frames
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	in      chan Message
	once    sync.Once
}

// DialChannel connects to the relay endpoint of serverURL (http or https)
func DialChannel(ctx context.Context, serverURL, token, matchID string) (Channel, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse server url %q", serverURL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{
		"match": {matchID},
		"token": {token},
		"codec": {"msgpack"},
	}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, eris.Wrapf(err, "dial relay: %s", resp.Status)
		}
		return nil, eris.Wrap(err, "dial relay")
	}

	c := &wsChannel{conn: conn, in: make(chan Message, relayBufSize)}
	go c.readLoop()
	return c, nil
}

func (c *wsChannel) readLoop() {
	defer close(c.in)
	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := DecodeFrame(msgType == websocket.BinaryMessage, raw)
		if err != nil {
			continue
		}
		select {
		case c.in <- m:
		default:
		}
	}
}

func (c *wsChannel) Send(ctx context.Context, m Message) error {
	data, err := EncodeBinary(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return eris.Wrap(c.conn.WriteMessage(websocket.BinaryMessage, data), "write frame")
}

func (c *wsChannel) Messages() <-chan Message { return c.in }

// Close ends the connection; the server publishes the presence leave
func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
