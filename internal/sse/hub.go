// Package sse fans live-visitor updates out to streaming subscribers.
package sse

import (
	"sync"
	"time"
)

// Update carries one live-visitor count sample.
type Update struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub is a minimal broadcaster. Slow subscribers miss updates instead of
// blocking the recorder.
type Hub struct {
	mu      sync.Mutex
	clients map[chan Update]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan Update]struct{})}
}

// Subscribe returns a channel for updates and a cleanup function.
func (h *Hub) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 10)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		close(ch)
		h.mu.Unlock()
	}
}

// Broadcast sends the update to all subscribers without blocking.
func (h *Hub) Broadcast(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- u:
		default:
		}
	}
}

// ClientCount returns the current number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
