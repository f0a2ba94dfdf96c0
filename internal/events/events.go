// Package events provides an in-process event bus for portfolio changes.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType names an event
type EventType string

const (
	// PortfolioChanged fires after a transaction is added, updated or removed
	PortfolioChanged EventType = "PORTFOLIO_CHANGED"
	// PortfolioImported fires after an import replaced the ledger
	PortfolioImported EventType = "PORTFOLIO_IMPORTED"
	// PricesRefreshed fires after the holdings' quotes were re-fetched
	PricesRefreshed EventType = "PRICES_REFRESHED"
)

// AllTypes lists every event type
var AllTypes = []EventType{PortfolioChanged, PortfolioImported, PricesRefreshed}

// Event is a published event
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// Handler receives events. Handlers run on the emitter's goroutine and must not block.
type Handler func(event *Event)

type subscription struct {
	types   map[EventType]bool // nil means every type
	handler Handler
}

// Bus fans events out to subscribers
type Bus struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
	now  func() time.Time
	log  zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]subscription),
		now:  time.Now,
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for the given types, or every type when none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(handler Handler, types ...EventType) func() {
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Emit publishes data to every matching subscriber
func (b *Bus) Emit(module string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: b.now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.types == nil || sub.types[event.Type] {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	b.log.Debug().Str("type", string(event.Type)).Int("subscribers", len(handlers)).Msg("Event emitted")
	for _, h := range handlers {
		h(event)
	}
}

// Subscribers returns the number of active subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
