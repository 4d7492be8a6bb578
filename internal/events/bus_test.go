package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	want := Change{Collection: "daily_logs", Key: "2026-08-30", Source: SourcePull}
	bus.Publish(want)

	select {
	case got := <-a:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber a did not receive the change")
	}
	select {
	case got := <-b:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber b did not receive the change")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Change{Collection: "memories", Key: "training", Source: SourceLocal})
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(Change{Collection: "daily_logs", Key: "k", Source: SourceLocal})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.NotEmpty(t, ch)
}
