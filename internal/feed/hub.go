// Package feed fans cycle payloads out to any number of subscribers and
// serves them as a Server-Sent Events stream.
package feed

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/greenlight/internal/monitoring"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("feed: hub closed")

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 4

// keepAlive is the interval between SSE comment lines on an idle stream.
var keepAlive = 15 * time.Second

// Hub delivers each published value to every current subscriber and
// remembers the most recent one. A subscriber that falls behind misses
// values rather than stalling the publisher.
type Hub[T any] struct {
	subscribers  map[string]chan T
	subscriberMu sync.Mutex
	buffer       int

	latest    T
	hasLatest bool
	closing   bool
}

// NewHub creates a Hub. buffer <= 0 selects DefaultBuffer.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{
		subscribers: make(map[string]chan T),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The ID identifies it to
// Unsubscribe. The channel is closed by Unsubscribe or Close.
func (h *Hub[T]) Subscribe() (string, <-chan T) {
	id, ch, _, _ := h.subscribe()
	return id, ch
}

// subscribe also returns the latest value as of registration, so a caller
// that replays it never sees the same value twice.
func (h *Hub[T]) subscribe() (id string, ch chan T, latest T, ok bool) {
	id = uuid.NewString()
	ch = make(chan T, h.buffer)
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closing {
		close(ch)
		return id, ch, latest, false
	}
	h.subscribers[id] = ch
	return id, ch, h.latest, h.hasLatest
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub[T]) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish records v as the latest value and offers it to every
// subscriber without blocking.
func (h *Hub[T]) Publish(v T) error {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closing {
		return ErrClosed
	}
	h.latest, h.hasLatest = v, true
	for _, ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			// subscriber is behind; skip so one slow client cannot block the cycle loop
		}
	}
	return nil
}

// Latest returns the most recently published value.
func (h *Hub[T]) Latest() (T, bool) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	return h.latest, h.hasLatest
}

// Subscribers returns the number of active subscribers.
func (h *Hub[T]) Subscribers() int {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later Publish calls fail.
func (h *Hub[T]) Close() {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Handler returns an SSE endpoint writing one "data:" event per value.
// A new client first receives the latest value, if any. encode renders a
// value as a single-line event body.
func (h *Hub[T]) Handler(encode func(T) ([]byte, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c, latest, hasLatest := h.subscribe()
		defer h.Unsubscribe(id)

		// Send initial ping to establish connection
		if _, err := w.Write([]byte(": ping\n\n")); err != nil {
			return
		}
		if hasLatest {
			if err := writeEvent(w, encode, latest); err != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case v, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				if err := writeEvent(w, encode, v); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeEvent[T any](w http.ResponseWriter, encode func(T) ([]byte, error), v T) error {
	body, err := encode(v)
	if err != nil {
		monitoring.Warnf("[Feed] dropping unencodable event: %v", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}
