package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"zenflow-backend/internal/broadcast"
)

// Client message types.
const (
	TypeLogOffPermanently = "log_off_permanently"
)

const maxClientMessage = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsClient pairs one websocket with its hub subscription.
type wsClient struct {
	h            *Handler
	conn         *websocket.Conn
	sub          *broadcast.Subscriber
	writeTimeout time.Duration
	pongTimeout  time.Duration
}

// ServeWS handles GET /ws. The status snapshot is the first message the
// client receives; every later status or permanent change follows.
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		h:            h,
		conn:         conn,
		sub:          h.hub.Subscribe(uuid.NewString()),
		writeTimeout: seconds(h.ws.WriteTimeoutSeconds, 10),
		pongTimeout:  seconds(h.ws.PongTimeoutSeconds, 60),
	}

	go client.writePump()
	client.readPump()
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// readPump handles client commands until the connection fails, then
// unsubscribes, which in turn stops writePump.
func (c *wsClient) readPump() {
	defer c.h.hub.Unsubscribe(c.sub)

	c.conn.SetReadLimit(maxClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", c.sub.ID, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Ignoring malformed message from %s: %v", c.sub.ID, err)
			continue
		}

		switch msg.Type {
		case TypeLogOffPermanently:
			log.Printf("Received log off permanently request from %s", c.sub.ID)
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			_, _ = c.h.logOff(ctx)
			cancel()
		default:
			log.Printf("Ignoring unknown message type %q from %s", msg.Type, c.sub.ID)
		}
	}
}

// writePump is the only writer on the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Messages():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("WebSocket write failed for %s: %v", c.sub.ID, err)
				c.h.hub.Unsubscribe(c.sub)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.h.hub.Unsubscribe(c.sub)
				return
			}
		}
	}
}
