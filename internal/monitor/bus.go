// Package monitor exposes a debug view of the link over HTTP: a WebSocket
// event stream plus a few JSON endpoints. It is strictly read-plus-send
// tooling for development; the devices never depend on it.
package monitor

import (
	"sync"
	"time"
)

// EventType classifies a link event for stream clients.
type EventType string

const (
	EventTelemetry EventType = "telemetry"
	EventInbox     EventType = "inbox"
	EventStatus    EventType = "status"
	EventLinkState EventType = "link_state"
	EventHeartbeat EventType = "heartbeat"
	EventSendDone  EventType = "send_done"
)

// Event is the JSON-serialisable envelope broadcast to stream clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type subscriber struct {
	ch chan Event
}

// EventBus fans link events out to all registered stream clients.
// Subscribers are buffered channels so the bus stays transport-agnostic
// and testable without a WebSocket.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs a ready EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new client. The returned unsubscribe function must
// be called when the client disconnects; it closes the channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish sends an Event to all current subscribers. Slow consumers are
// skipped rather than allowed to stall the link callbacks.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// PublishTelemetry is a convenience wrapper for EventTelemetry events.
func (b *EventBus) PublishTelemetry(data interface{}) {
	b.Publish(Event{Type: EventTelemetry, Data: data})
}

// PublishInbox is a convenience wrapper for EventInbox events.
func (b *EventBus) PublishInbox(data interface{}) {
	b.Publish(Event{Type: EventInbox, Data: data})
}

// PublishStatus is a convenience wrapper for EventStatus events.
func (b *EventBus) PublishStatus(data interface{}) {
	b.Publish(Event{Type: EventStatus, Data: data})
}

// PublishLinkState is a convenience wrapper for EventLinkState events.
func (b *EventBus) PublishLinkState(state string) {
	b.Publish(Event{Type: EventLinkState, Data: map[string]string{"state": state}})
}

// Len returns the current subscriber count.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
