package crash

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"crashd/internal/metrics"
)

type Client struct {
	conn     *websocket.Conn
	playerID string
	mu       sync.Mutex
}

// Hub fans round lifecycle events out to every connected websocket client.
// It implements EventSink: delivery is best-effort and never blocks the
// engine's tick driver.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	log        *zap.Logger
	mu         sync.RWMutex
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Info("client connected", zap.String("player_id", client.playerID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Info("client disconnected", zap.String("player_id", client.playerID), zap.Int("total", total))

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("marshal event", zap.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				go client.send(data, h.log)
			}
			h.mu.RUnlock()
		}
	}
}

// Publish enqueues an event for broadcast. Drops the event when the queue
// is full rather than stalling the tick driver.
func (h *Hub) Publish(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("type", event.Type))
	}
}

// SendToPlayer delivers an event only to that player's connections.
func (h *Hub) SendToPlayer(playerID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		if client.playerID == playerID {
			go client.send(data, h.log)
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(data []byte, log *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn("write failed", zap.String("player_id", c.playerID), zap.Error(err))
	}
}

// SendInitialState pushes the current round snapshot to a newly connected
// client so it can render without waiting for the next tick.
func (c *Client) SendInitialState(snap *Snapshot, log *zap.Logger) {
	if snap == nil {
		return
	}
	data, err := json.Marshal(Event{Type: "initial_state", Data: snap})
	if err != nil {
		return
	}
	c.send(data, log)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, playerID string) *Client {
	client := &Client{
		conn:     conn,
		playerID: playerID,
	}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
