package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 60
)

// outFrame is one queued websocket write
type outFrame struct {
	binary bool
	data   []byte
}

// Client is one websocket connection bridged onto a match topic
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan outFrame
	sub        Subscription
	identity   Identity
	matchID    string
	remoteAddr string
	binary     bool // encode outgoing frames as msgpack
	log        zerolog.Logger

	msgCount   int
	msgResetAt time.Time
	closeOnce  sync.Once
}

// NewClient creates a client for an authenticated participant
func NewClient(hub *Hub, conn *websocket.Conn, sub Subscription, id Identity, matchID, remoteAddr string, binary bool) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan outFrame, sendBufSize),
		sub:        sub,
		identity:   id,
		matchID:    matchID,
		remoteAddr: remoteAddr,
		binary:     binary,
		log: hub.log.With().
			Str("match", matchID).
			Str("identity", id.ID).
			Logger(),
	}
}

// ReadPump publishes the client's frames to the match topic
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	topic := MatchTopic(c.matchID)
	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("ws read")
			}
			break
		}

		if !c.allowFrame(time.Now()) {
			if c.msgCount == maxMessagesPerSec+1 {
				c.log.Warn().Str("ip", c.remoteAddr).Msg("rate limit exceeded, dropping frames")
			}
			continue
		}

		m, err := DecodeFrame(msgType == websocket.BinaryMessage, raw)
		if err != nil {
			c.sendError("malformed frame")
			continue
		}
		switch m.T {
		case MsgLeave, MsgError:
			// presence and errors come from the relay only
			continue
		}
		m.From = c.identity.ID

		ctx, cancel := context.WithTimeout(context.Background(), publishWait)
		err = c.hub.relay.Publish(ctx, topic, m)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("type", m.T).Msg("publish")
		}
	}
}

// allowFrame counts a frame against the per-second budget
func (c *Client) allowFrame(now time.Time) bool {
	if now.After(c.msgResetAt) {
		c.msgCount = 0
		c.msgResetAt = now.Add(time.Second)
	}
	c.msgCount++
	return c.msgCount <= maxMessagesPerSec
}

// RelayPump forwards topic messages to the websocket
func (c *Client) RelayPump() {
	for m := range c.sub.Messages() {
		c.sendMessage(m)
	}
}

// WritePump writes queued frames to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.TextMessage
			if frame.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, frame.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMessage(m Message) {
	var data []byte
	var err error
	if c.binary {
		data, err = EncodeBinary(m)
	} else {
		data, err = EncodeText(m)
	}
	if err != nil {
		c.log.Error().Err(err).Msg("encode frame")
		return
	}
	c.enqueue(outFrame{binary: c.binary, data: data})
}

func (c *Client) sendError(msg string) {
	c.sendMessage(Message{T: MsgError, Error: msg})
}

// enqueue drops the frame when the client is too slow or already closed
func (c *Client) enqueue(f outFrame) {
	defer func() { recover() }()
	select {
	case c.send <- f:
	default:
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}
