package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// Client is one live transport session. It owns the read and write
// pumps for its websocket connection; everything it knows about the
// user behind it lives in the registry, not here.
type Client struct {
	id        string
	conn      *websocket.Conn
	server    *Server
	log       *log.Logger
	send      chan *ServerMessage
	stop      chan struct{}
	stopOnce  sync.Once
	createdAt time.Time
}

func NewClient(conn *websocket.Conn, s *Server, l *log.Logger) *Client {
	return &Client{
		id:        uuid.NewString(),
		conn:      conn,
		server:    s,
		log:       l,
		send:      make(chan *ServerMessage, 256),
		stop:      make(chan struct{}),
		createdAt: time.Now(),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("conn %s: dropping unparseable event: %v", c.id, err)
			continue
		}

		msg.client = c
		c.server.dispatch(&msg)
	}
}

// queueMessage hands a message to the write pump without blocking. A
// full send buffer means the transport is saturated; the message is
// dropped and the transport's own backpressure policy applies.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("conn %s: send buffer full, dropping message", c.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// stopClient is safe to call more than once: a connection can be
// retired both by its own disconnect and by being superseded.
func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	select {
	case c.server.deRegisterChan <- c:
	case <-c.server.done:
		// run loop already exited, nothing left to deregister from
	}
	c.stopClient()
}
