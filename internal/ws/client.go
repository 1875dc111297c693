package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var errClientClosed = errors.New("ws client closed")

// client is the push handle of one socket. Frames are queued and written by
// writePump so a slow socket never blocks the sender.
type client struct {
	conn   *websocket.Conn
	userID int64
	send   chan []byte
	log    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, userID int64, log *slog.Logger) *client {
	return &client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		log:    log,
		done:   make(chan struct{}),
	}
}

// Send encodes payload and queues it. A full queue drops the socket.
func (c *client) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.log.Warn("ws send buffer full, closing", "user_id", c.userID)
		c.close()
		return errClientClosed
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("ws write failed", "user_id", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ws ping failed", "user_id", c.userID, "error", err)
				return
			}
		}
	}
}
