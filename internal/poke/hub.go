package poke

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// subscriberBuffer is the number of pokes queued per subscriber before
	// further pokes to it are dropped.
	subscriberBuffer = 16
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = pongTimeout * 9 / 10
)

// Hub is an in-process WebSocket fan-out of pokes.
//
// Clients subscribe with GET ?space=..&subspace=..; repeating subspace
// narrows the subscription, omitting it subscribes to the whole space.
// Slow subscribers drop pokes rather than blocking pushes: a dropped poke
// only delays the next pull.
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	space     string
	subspaces []string
	send      chan Message
}

// matches reports whether a poke of space/subspaceIDs concerns s.
func (s *subscriber) matches(space string, subspaceIDs []string) bool {
	if s.space != space {
		return false
	}
	if len(s.subspaces) == 0 || len(subspaceIDs) == 0 {
		return true
	}
	for _, id := range subspaceIDs {
		if slices.Contains(s.subspaces, id) {
			return true
		}
	}
	return false
}

// NewHub returns an empty hub. checkOrigin may be nil to accept same-origin
// requests only.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Poke queues the message for every matching subscriber. It never blocks.
func (h *Hub) Poke(_ context.Context, space string, subspaceIDs []string) error {
	msg := newMessage(space, subspaceIDs)

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.matches(space, subspaceIDs) {
			continue
		}
		select {
		case s.send <- msg:
		default:
			log.WithField("space", space).Warn("poke subscriber is slow, dropping poke")
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams pokes until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	space := r.URL.Query().Get("space")
	if space == "" {
		http.Error(w, "space is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.WithField("err", err).Debug("poke upgrade failed")
		return
	}

	s := &subscriber{
		space:     space,
		subspaces: r.URL.Query()["subspace"],
		send:      make(chan Message, subscriberBuffer),
	}
	h.add(s)
	defer h.remove(s)

	done := make(chan struct{})
	go readLoop(conn, done)
	writeLoop(conn, s.send, done)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// readLoop discards client frames and closes done when the connection drops.
func readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, send <-chan Message, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
