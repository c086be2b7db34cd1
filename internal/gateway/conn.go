package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/transfer"
)

// frame is the wire unit in both directions: an event name and a JSON payload.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is one authenticated websocket connection. All outbound frames pass
// through the send channel so only the write pump touches the socket.
type Conn struct {
	ID        string
	ident     auth.Identity
	ws        *websocket.Conn
	assembler *transfer.Assembler

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, ident auth.Identity, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Conn{
		ID:        uuid.NewString(),
		ident:     ident,
		ws:        ws,
		assembler: transfer.NewAssembler(),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Identity returns the authenticated identity riding on the connection.
func (c *Conn) Identity() auth.Identity {
	return c.ident
}

// Emit queues one frame for delivery. A full send buffer drops the frame
// rather than blocking the hub; the client reconciles on its next join.
func (c *Conn) Emit(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s payload: %w", event, err)
	}
	buf, err := json.Marshal(frame{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("gateway: marshal %s frame: %w", event, err)
	}
	select {
	case c.send <- buf:
		return nil
	case <-c.done:
		return fmt.Errorf("gateway: conn %s closed", c.ID)
	default:
		log.Printf("gateway: conn %s send buffer full, dropping %s", c.ID, event)
		return nil
	}
}

// writePump owns all writes to the socket: queued frames plus keepalive
// pings. It exits when the connection closes.
func (c *Conn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case buf := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}
