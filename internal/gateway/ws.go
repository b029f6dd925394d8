package gateway

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/punchclock/engine/pkg/messaging"
)

// EventHub fans engine lifecycle events out to websocket clients so the
// presentation layer can render a live event log. Envelopes are forwarded
// verbatim; clients de-duplicate by envelope id since delivery upstream is
// at-least-once.
type EventHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]*wsClient
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*wsClient),
	}
}

// Listen subscribes the hub to every engine lifecycle subject.
func (h *EventHub) Listen(client *messaging.Client) error {
	return client.Subscribe(messaging.SubjectAll, func(msg *nats.Msg) {
		h.broadcast(msg.Data)
	})
}

func (h *EventHub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop rather than block the feed.
		}
	}
}

// Handle upgrades the request and streams events until the client leaves.
func (h *EventHub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *EventHub) writeLoop(c *wsClient) {
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop exists to detect disconnects; inbound messages are ignored.
func (h *EventHub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *EventHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.done)
	}
	h.mu.Unlock()

	c.conn.Close()
}
