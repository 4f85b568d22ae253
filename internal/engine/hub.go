// Package engine — WebSocket hub broadcasting domain events to
// notification and aggregation collaborators.
package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Phenixis/Predis/internal/metrics"
	"github.com/Phenixis/Predis/internal/model"
)

// Event types published on the stream.
const (
	EventWagerPlaced     = "wager_placed"
	EventMarketLocked    = "market_locked"
	EventMarketResolved  = "market_resolved"
	EventMarketCancelled = "market_cancelled"
)

// Event is a JSON message sent to event-stream clients. Payloads mirror the
// summaries returned to callers.
type Event struct {
	Type       string                   `json:"type"`
	MarketID   string                   `json:"market_id"`
	AccountID  string                   `json:"account_id,omitempty"`
	OptionID   string                   `json:"option_id,omitempty"`
	Amount     int64                    `json:"amount,omitempty"`
	Odds       []model.OptionOdds       `json:"odds,omitempty"`
	Resolution *model.ResolutionSummary `json:"resolution,omitempty"`
	Refund     *model.RefundSummary     `json:"refund,omitempty"`
}

// EventHub manages WebSocket connections and broadcasts domain events to
// all connected clients.
type EventHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewEventHub creates a new event hub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *EventHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			metrics.EventClients.Inc()
			slog.Info("event client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.EventClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			// Full lock: a failed write evicts the client, and the map
			// mutation must exclude the per-connection ping readers.
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.EventClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all connected clients.
func (h *EventHub) Broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking wager execution.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
