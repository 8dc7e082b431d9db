package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabdoc/backend/internal/collab"
	"collabdoc/backend/internal/textop"
)

const writeWait = 10 * time.Second

// Conn is one bound WebSocket. Outbound frames go through a bounded queue
// drained by writeLoop; a full queue counts as a failed send.
type Conn struct {
	ws     *websocket.Conn
	room   *collab.Room
	origin collab.Origin

	send      chan any
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

var _ collab.Peer = (*Conn)(nil)

func NewConn(ws *websocket.Conn, room *collab.Room, origin collab.Origin, queue int, logger zerolog.Logger) *Conn {
	if queue <= 0 {
		queue = 64
	}
	return &Conn{
		ws:     ws,
		room:   room,
		origin: origin,
		send:   make(chan any, queue),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Conn) Enqueue(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			var err error
			if raw, ok := msg.(json.RawMessage); ok {
				err = c.ws.WriteMessage(websocket.TextMessage, raw)
			} else {
				err = c.ws.WriteJSON(msg)
			}
			if err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		}
	}
}

// readLoop runs until the socket fails or is closed.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}

		if !json.Valid(data) {
			c.logger.Debug().Msg("skipping malformed frame")
			continue
		}
		if frameType(data) != TypeOp {
			// presence and unknown shapes go to everyone else untouched
			c.room.Relay(c, json.RawMessage(data))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed op")
			continue
		}
		c.room.Submit(textop.Op{Pos: msg.Pos, Del: msg.Del, Ins: msg.Ins}, baseVersion(msg.Version), c.originOf(msg))
	}
}

func baseVersion(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func (c *Conn) originOf(msg ClientMessage) collab.Origin {
	o := c.origin
	if msg.UserID != "" {
		o.UserID = string(msg.UserID)
	}
	if msg.UserName != "" {
		o.UserName = msg.UserName
	}
	return o
}
