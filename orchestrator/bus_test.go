package orchestrator

import (
	"testing"
	"time"

	"github.com/poiesic/curator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan core.ProgressEvent) core.ProgressEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return core.ProgressEvent{}
}

func TestBus_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	events, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	const n = 1000
	done := make(chan struct{})
	go func() {
		for i := range n {
			bus.Publish(core.ProgressEvent{AssetID: core.ID(i + 1)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an unread subscriber")
	}

	for i := range n {
		ev := receive(t, events)
		assert.Equal(t, core.ID(i+1), ev.AssetID, "events arrive in publish order")
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a, stopA := bus.Subscribe(4)
	b, stopB := bus.Subscribe(4)
	defer stopA()
	defer stopB()
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(core.ProgressEvent{Path: "x"})
	assert.Equal(t, "x", receive(t, a).Path)
	assert.Equal(t, "x", receive(t, b).Path)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	events, unsubscribe := bus.Subscribe(1)
	unsubscribe()
	unsubscribe() // idempotent
	assert.Equal(t, 0, bus.Subscribers())

	bus.Publish(core.ProgressEvent{Path: "ignored"})
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestBus_CloseDeliversQueuedEvents(t *testing.T) {
	bus := NewBus()
	events, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	bus.Publish(core.ProgressEvent{Path: "a"})
	bus.Publish(core.ProgressEvent{Path: "b"})
	bus.Close()
	bus.Publish(core.ProgressEvent{Path: "after close"})

	var paths []string
	for ev := range events {
		paths = append(paths, ev.Path)
	}
	assert.Equal(t, []string{"a", "b"}, paths)

	late, _ := bus.Subscribe(1)
	_, ok := <-late
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}
