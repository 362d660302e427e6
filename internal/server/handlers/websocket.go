// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"trendscope/internal/adapter/events"
)

// WebSocketClient is one connected trend event listener
type WebSocketClient struct {
	conn    *websocket.Conn
	send    chan []byte
	trendID string
	sub     *nats.Subscription
	logger  *slog.Logger
	config  WebSocketConfig

	closeOnce sync.Once
	done      chan struct{}
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64

	// Messages buffered per client before events are dropped
	SendBuffer int
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TrendWebSocketHandler streams trend events published under prefix. The
// optional trend_id query parameter narrows the stream to one trend.
func TrendWebSocketHandler(natsConn *nats.Conn, prefix string, logger *slog.Logger) http.HandlerFunc {
	config := DefaultWebSocketConfig()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade to websocket", "error", err)
			return
		}

		client := &WebSocketClient{
			conn:    conn,
			send:    make(chan []byte, config.SendBuffer),
			trendID: r.URL.Query().Get("trend_id"),
			logger:  logger,
			config:  config,
			done:    make(chan struct{}),
		}

		sub, err := natsConn.Subscribe(prefix+".>", client.forward)
		if err != nil {
			logger.Error("failed to subscribe to trend events", "error", err)
			client.closeConnection()
			return
		}
		client.sub = sub

		go client.writePump()
		go client.readPump()

		welcome, _ := json.Marshal(map[string]interface{}{
			"type":     "welcome",
			"trend_id": client.trendID,
			"time":     time.Now(),
		})
		client.enqueue(welcome)

		logger.Debug("websocket client connected", "trend_id", client.trendID)
	}
}

// forward relays a NATS event to the client if it passes the trend filter
func (c *WebSocketClient) forward(msg *nats.Msg) {
	if c.trendID != "" {
		var ev events.TrendEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.TrendID != c.trendID {
			return
		}
	}
	c.enqueue(msg.Data)
}

// enqueue never blocks the NATS dispatcher; slow clients lose events
func (c *WebSocketClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("dropping event for slow websocket client", "trend_id", c.trendID)
	}
}

// readPump only services control frames; clients don't send data
func (c *WebSocketClient) readPump() {
	defer c.closeConnection()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}
	}
}

// writePump pumps queued events to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeConnection releases the subscription and the connection once
func (c *WebSocketClient) closeConnection() {
	c.closeOnce.Do(func() {
		if c.sub != nil {
			if err := c.sub.Unsubscribe(); err != nil {
				c.logger.Warn("failed to unsubscribe websocket client", "error", err)
			}
		}
		close(c.done)
		c.conn.Close()
		c.logger.Debug("websocket client disconnected", "trend_id", c.trendID)
	})
}
