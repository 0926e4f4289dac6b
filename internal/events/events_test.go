package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) PublishEvent(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestEmitDeliversToAllSubscribers(t *testing.T) {
	e := NewEmitter("coordinator")
	var got []string
	e.Subscribe(func(ev Event) { got = append(got, "a:"+ev.Type) })
	e.Subscribe(func(ev Event) { got = append(got, "b:"+ev.Type) })

	e.Emit(SwarmRegistered, map[string]string{"swarm": "infra"})

	assert.ElementsMatch(t, []string{"a:swarmRegistered", "b:swarmRegistered"}, got)
}

func TestUnsubscribe(t *testing.T) {
	e := NewEmitter("monitor")
	n := 0
	unsub := e.Subscribe(func(Event) { n++ })
	e.Emit(Alert, nil)
	unsub()
	e.Emit(Alert, nil)
	assert.Equal(t, 1, n)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	e := NewEmitter("monitor")
	delivered := false
	e.Subscribe(func(Event) { panic("boom") })
	e.Subscribe(func(Event) { delivered = true })

	require.NotPanics(t, func() { e.Emit(MetricsCollected, nil) })
	assert.True(t, delivered)
}

func TestPublisherReceivesEvents(t *testing.T) {
	e := NewEmitter("coordinator")
	pub := &recordingPublisher{err: errors.New("offline")}
	e.SetPublisher(pub)

	e.Emit(MessageProcessed, 1)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "coordinator", pub.events[0].Source)
	assert.Equal(t, MessageProcessed, pub.events[0].Type)
}
