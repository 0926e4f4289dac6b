package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan string, 8)}
}

func (f *fakeSender) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	f.ch <- text
	return nil
}

func TestChunkMessage(t *testing.T) {
	assert.Len(t, chunkMessage("hello", 4096), 1)
	assert.Len(t, chunkMessage(strings.Repeat("a", 4096), 4096), 1, "exact limit")
	assert.Len(t, chunkMessage(strings.Repeat("a", 8192), 4096), 2)

	// Split at newline
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'
	chunks := chunkMessage(string(msg), 4096)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 3001, "up to and including the newline")
}

func TestNotifyRateLimited(t *testing.T) {
	sender := newFakeSender()
	n := NewWithSender(sender, 42, 1)

	require.NoError(t, n.Notify(context.Background(), "first"))
	assert.ErrorIs(t, n.Notify(context.Background(), "second"), ErrRateLimited)
	assert.Equal(t, int64(1), n.Dropped())

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Len(t, sender.sent, 1)
}

func TestHandleEventSendsCriticalSummary(t *testing.T) {
	sender := newFakeSender()
	n := NewWithSender(sender, 42, 60)

	n.HandleEvent(events.Event{Type: events.Alert})
	n.HandleEvent(events.Event{
		Type: events.CriticalAlertThreshold,
		Data: []monitor.Alert{
			{SwarmID: "infra", Type: monitor.AlertLowEfficiency, Value: 12, Threshold: 20},
		},
	})

	select {
	case text := <-sender.ch:
		assert.True(t, strings.HasPrefix(text, "1 critical alerts"), text)
		assert.Contains(t, text, "infra")
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}

	select {
	case text := <-sender.ch:
		t.Errorf("unexpected extra message %q", text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.TelegramConfig{ChatID: 42})
	assert.Error(t, err, "missing token")
}
