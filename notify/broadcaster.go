package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"break-scheduler/models"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// clientBuffer is how many undelivered notifications a slow client may
// queue before further ones are dropped for it.
const clientBuffer = 16

type client struct {
	id int
	ch chan []byte
}

// Broadcaster streams notifications to Server-Sent Events clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[int]*client
	nextID  int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[int]*client)}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Notify queues the notification for every connected client without
// blocking on any of them.
func (b *Broadcaster) Notify(_ context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		select {
		case c.ch <- data:
		default:
			log.Warn().Int("clientId", c.id).Msg("SSE client too slow, notification dropped")
		}
	}
	return nil
}

func (b *Broadcaster) add() *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &client{id: b.nextID, ch: make(chan []byte, clientBuffer)}
	b.clients[c.id] = c
	log.Debug().Int("clientId", c.id).Int("totalClients", len(b.clients)).Msg("SSE client connected")
	return c
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c.id)
	log.Debug().Int("clientId", c.id).Int("totalClients", len(b.clients)).Msg("SSE client disconnected")
}

// ServeHTTP streams notifications until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	c := b.add()
	defer b.remove(c)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-c.ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
