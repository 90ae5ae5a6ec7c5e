// Package fleetws implements Bay's operator-facing fleet event feed: a
// websocket broadcasting Ship lifecycle transitions as they occur.
package fleetws

import (
	"encoding/json"
	"time"
)

// Event is a single Ship lifecycle transition broadcast to subscribers.
type Event struct {
	Type      string    `json:"type"` // running | stopped | expired (no event is published for Starting)
	ShipID    string    `json:"ship_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected fleet-feed clients and fans Events out to all of
// them. Registration, unregistration, and broadcast are serialized through
// a single goroutine, following the register/unregister/broadcast channel
// pattern.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
}

// NewHub constructs an unstarted Hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 64),
	}
}

// Run serves the Hub's event loop until the caller closes done.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			for client := range h.clients {
				close(client.send)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case event := <-h.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Publish broadcasts an Event to every connected client. Non-blocking: if
// the Hub's internal queue is full the event is dropped rather than
// stalling the caller (this feed is observability, not a scheduling input).
func (h *Hub) Publish(event Event) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// Register admits a Client to the Hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a Client from the Hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}
