package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// subscriberBuffer bounds each subscriber's event queue. Slow consumers
// lose events rather than stall publishers.
const subscriberBuffer = 32

// Event is one state transition published to the live feed.
type Event struct {
	Kind    string `json:"kind"` // "circuit_breaker"
	Backend string `json:"backend"`
	From    string `json:"from"`
	To      string `json:"to"`
	At      int64  `json:"at"` // Unix seconds
}

// EventHub fans state-transition events out to WebSocket subscribers.
type EventHub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger,
		subs:   make(map[chan Event]struct{}),
	}
}

// Publish delivers an event to every subscriber. Never blocks: full
// subscriber queues drop the event.
func (h *EventHub) Publish(e Event) {
	if e.At == 0 {
		e.At = time.Now().Unix()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Debug("event dropped for slow subscriber",
				"component", "gateway",
				"kind", e.Kind,
			)
		}
	}
}

// subscribe registers a new subscriber channel.
func (h *EventHub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unsubscribe removes a subscriber channel.
func (h *EventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events as JSON until the
// client disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed",
			"component", "gateway",
			"error", err,
		)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case e := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, e)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
