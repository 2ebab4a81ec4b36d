package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Outbound queue depth per client. A client that cannot drain this
	// fast is dropped rather than allowed to stall the match.
	sendBuffer = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 << 20 // asset uploads ride the same channel

	// A connection that never completes its handshake is cut.
	handshakeWait = 10 * time.Second
)

// Client is one websocket connection. Before the handshake it belongs
// only to the transport; after join it is owned by a match and keyed by
// session id.
type Client struct {
	sessionID string
	userID    string
	username  string

	conn         *websocket.Conn
	send         chan []byte
	match        *Match
	server       *Server
	pendingMatch string // match id from the upgrade request

	closeOnce sync.Once
	kicked    chan struct{}
}

func newClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: server,
		kicked: make(chan struct{}),
	}
}

// enqueue queues an encoded frame, dropping it if the client cannot
// keep up. Called from the match tick goroutine only.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.server.log.Warn().Str("session", c.sessionID).Msg("send buffer full, dropping frame")
	}
}

// kick closes the connection once queued frames are flushed.
func (c *Client) kick(reason string) {
	c.closeOnce.Do(func() {
		close(c.kicked)
	})
	_ = reason // delivered via a prior unicast by the caller when needed
}

// readPump drives the connection: handshake first, then frames into
// the match inbox until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		if c.match != nil {
			c.match.enqueueLeave(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(handshakeWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	joined := false
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			c.server.log.Debug().Str("session", c.sessionID).Msg("non-binary frame dropped")
			continue
		}
		op, payload, err := DecodeFrame(data)
		if err != nil {
			c.server.log.Debug().Err(err).Msg("short frame dropped")
			continue
		}

		if !joined {
			if op != OpHandshake {
				c.server.log.Debug().Uint16("op", op).Msg("frame before handshake, closing")
				return
			}
			if !c.server.handleHandshake(c, payload) {
				return
			}
			joined = true
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		// Payload aliases the read buffer; copy before it crosses the
		// inbox to the tick goroutine.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		c.match.enqueueFrame(c, op, buf)
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump flushes the send queue and keeps the connection alive with
// pings. A kicked client is closed once the queue drains.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-c.kicked:
			// Drain whatever was queued before the kick, then close.
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
				default:
					c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "kicked"),
						time.Now().Add(writeWait))
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
