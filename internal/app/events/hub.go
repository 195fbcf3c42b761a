// Package events fans invoice status changes out to live subscribers.
package events

import (
	"strings"
	"sync"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/pkg/logger"
)

// Publisher accepts invoice events.
type Publisher interface {
	Publish(evt invoice.Event)
}

// Hub is an in-process publish/subscribe bus keyed by invoice ref. An empty
// ref subscribes to every invoice.
type Hub struct {
	mu     sync.RWMutex
	log    *logger.Logger
	buffer int
	nextID uint64
	subs   map[string]map[uint64]chan invoice.Event
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Hub{log: log, buffer: buffer, subs: make(map[string]map[uint64]chan invoice.Event)}
}

// Subscribe returns a channel of events for ref and a cancel function that
// closes it.
func (h *Hub) Subscribe(ref string) (<-chan invoice.Event, func()) {
	key := strings.ToUpper(ref)
	ch := make(chan invoice.Event, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]chan invoice.Event)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()
	metrics.SubscriberOpened()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
			metrics.SubscriberClosed()
		})
	}
	return ch, cancel
}

// Publish delivers evt to subscribers of its ref and to wildcard subscribers.
// Slow subscribers miss events rather than block the publisher.
func (h *Hub) Publish(evt invoice.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, key := range []string{strings.ToUpper(evt.Ref), ""} {
		for _, ch := range h.subs[key] {
			select {
			case ch <- evt:
			default:
				h.log.WithField("ref", evt.Ref).Warn("subscriber buffer full; event dropped")
			}
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
