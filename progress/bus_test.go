package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed before event arrived")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("delivers to all-types subscriber", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		sub := bus.Subscribe()
		defer sub.Cancel()

		bus.Publish(Event{Type: SessionStarted, SessionID: "s1", AgentName: "researcher"})

		ev := recvEvent(t, sub.C)
		assert.Equal(t, SessionStarted, ev.Type)
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, "researcher", ev.AgentName)
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("filters by type", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		sub := bus.Subscribe(ToolStarted, ToolCompleted)
		defer sub.Cancel()

		bus.Publish(Event{Type: SessionStarted, SessionID: "s1"})
		bus.Publish(Event{Type: ToolStarted, SessionID: "s1"})
		bus.Publish(Event{Type: SessionUpdated, SessionID: "s1"})
		bus.Publish(Event{Type: ToolCompleted, SessionID: "s1"})

		assert.Equal(t, ToolStarted, recvEvent(t, sub.C).Type)
		assert.Equal(t, ToolCompleted, recvEvent(t, sub.C).Type)
		select {
		case ev := <-sub.C:
			t.Fatalf("unexpected event %s", ev.Type)
		default:
		}
	})

	t.Run("preserves explicit timestamp", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		sub := bus.Subscribe()
		defer sub.Cancel()

		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		bus.Publish(Event{Type: SessionCompleted, Timestamp: ts})
		assert.Equal(t, ts, recvEvent(t, sub.C).Timestamp)
	})
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(func(o *Options) { o.BufferSize = 2 })
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: SessionUpdated, SessionID: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// Buffer held only the first two events; the rest were dropped.
	assert.Len(t, sub.C, 2)
}

func TestBusCancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Cancel()
	sub.Cancel() // idempotent

	_, ok := <-sub.C
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	bus.Publish(Event{Type: SessionStarted})
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	sub := bus.Subscribe()
	bus.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	// Closed bus hands out already-closed subscriptions and swallows publishes.
	late := bus.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok)
	bus.Publish(Event{Type: SessionCompleted})
	bus.Close()
}
