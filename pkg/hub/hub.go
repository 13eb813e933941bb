package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/voicelink-dev/voicelink/internal/log"
)

// Hub maintains the set of connected caption viewers and broadcasts
// updates to them. Run owns the client set; all mutation happens on its
// goroutine.
type Hub struct {
	name string

	clients    map[*Client]bool
	viewers    atomic.Int64
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// last holds the most recent caption of each kind so a late joiner
	// sees the current line immediately instead of a blank screen.
	mu   sync.RWMutex
	last map[CaptionKind][]byte
}

// New creates a hub; call Run in a goroutine before accepting clients.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		last:       make(map[CaptionKind][]byte),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.viewers.Store(int64(len(h.clients)))
			log.Debug("caption viewer connected", "hub", h.name, "viewers", len(h.clients))

			h.mu.RLock()
			for _, data := range h.last {
				select {
				case client.send <- data:
				default:
				}
			}
			h.mu.RUnlock()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.viewers.Store(int64(len(h.clients)))
			log.Debug("caption viewer disconnected", "hub", h.name, "viewers", len(h.clients))

		case data := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Too slow to keep up with captions: drop.
					close(client.send)
					delete(h.clients, client)
					h.viewers.Store(int64(len(h.clients)))
					log.Warn("dropped slow caption viewer", "hub", h.name)
				}
			}
		}
	}
}

// Publish broadcasts a caption to every viewer and retains it for late
// joiners. Marshal failures and a full broadcast queue both drop the
// caption; captions are advisory, never load-bearing.
func (h *Hub) Publish(c Caption) {
	data, err := json.Marshal(c)
	if err != nil {
		log.Warn("caption marshal failed", "hub", h.name, "error", err)
		return
	}

	h.mu.Lock()
	h.last[c.Kind] = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		log.Warn("caption queue full, dropping", "hub", h.name)
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	return int(h.viewers.Load())
}
