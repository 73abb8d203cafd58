// Package events broadcasts model lifecycle events to websocket
// subscribers. Operators keep a dashboard attached to learn about switches
// without polling the models endpoint.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visasight/prediction-service/internal/logging"
)

// Event is one lifecycle notification.
type Event struct {
	Type            string    `json:"type"`
	PreviousVersion string    `json:"previous_version,omitempty"`
	ActiveVersion   string    `json:"active_version"`
	Family          string    `json:"family,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Event types.
const (
	TypeModelSwitched   = "model_switched"
	TypeModelRegistered = "model_registered"
)

const subscriberBuffer = 8

// Hub fans events out to connected subscribers. Slow subscribers are
// dropped rather than allowed to stall the broadcast path.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool

	log      *logging.Logger
	upgrader websocket.Upgrader
}

// NewHub builds an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Default("events")
	}
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			delete(h.subscribers, ch)
			close(ch)
			h.log.Warn("dropping slow event subscriber")
		}
	}
}

// Subscribe registers a listener channel. The returned cancel function must
// be called when the listener goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe()
	defer cancel()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range events {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
