// Package events is the push interface of the coordinator and monitor:
// in-process subscribers plus an optional publisher (the NATS bus) that
// receives every event under "events.<source>.<name>".
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Names emitted by the coordinator and monitor.
const (
	SwarmRegistered        = "swarmRegistered"
	MessageProcessed       = "messageProcessed"
	MetricsCollected       = "metricsCollected"
	Alert                  = "alert"
	CriticalAlertThreshold = "criticalAlertThreshold"
	EmergencyBroadcast     = "emergencyBroadcast"
	ConsensusDecided       = "consensusDecided"
	SwarmUnresponsive      = "swarmUnresponsive"
)

type Event struct {
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type Handler func(Event)

// Publisher forwards events to an external fan-out such as NATS.
type Publisher interface {
	PublishEvent(Event) error
}

type Emitter struct {
	source string

	mu        sync.RWMutex
	next      int
	handlers  map[int]Handler
	publisher Publisher
}

func NewEmitter(source string) *Emitter {
	return &Emitter{source: source, handlers: make(map[int]Handler)}
}

// SetPublisher attaches p; nil detaches.
func (e *Emitter) SetPublisher(p Publisher) {
	e.mu.Lock()
	e.publisher = p
	e.mu.Unlock()
}

// Subscribe registers h for every event and returns a function that removes
// it.
func (e *Emitter) Subscribe(h Handler) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.handlers[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

// Emit delivers synchronously to subscribers. A panicking handler is logged
// and does not prevent delivery to the others.
func (e *Emitter) Emit(name string, data any) {
	ev := Event{Source: e.source, Type: name, Timestamp: time.Now(), Data: data}

	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	pub := e.publisher
	e.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, ev)
	}
	if pub != nil {
		if err := pub.PublishEvent(ev); err != nil {
			slog.Warn("publish event failed", "source", e.source, "type", name, "error", err)
		}
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "source", ev.Source, "type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
