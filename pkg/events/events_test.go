package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)

	broker.Publish(&Event{
		Type:    EventSessionActive,
		Message: "session active",
		Metadata: map[string]string{
			"session_id": "s1",
		},
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventSessionActive, event.Type)
			assert.Equal(t, "s1", event.Metadata["session_id"])
			assert.NotEmpty(t, event.ID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe()
	fast := broker.Subscribe()
	defer broker.Unsubscribe(slow)
	defer broker.Unsubscribe(fast)

	// Overflow the slow subscriber's buffer without draining it.
	for i := 0; i < 120; i++ {
		broker.Publish(&Event{Type: EventImageReady, Message: "ready"})
		// Keep the fast subscriber drained so publishing never stalls.
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}

	// The slow subscriber holds at most its buffer size.
	assert.LessOrEqual(t, len(slow), 50)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	require.Equal(t, 1, broker.SubscriberCount())

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	// Second call must not panic on a closed channel.
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		// Fill well past the event buffer; Stop must unblock sends.
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventDHCPReloaded})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked after broker stop")
	}
}

func TestSubscriberCount(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	assert.Equal(t, 0, broker.SubscriberCount())

	subs := make([]Subscriber, 3)
	for i := range subs {
		subs[i] = broker.Subscribe()
	}
	assert.Equal(t, 3, broker.SubscriberCount())

	broker.Unsubscribe(subs[0])
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Unsubscribe(subs[1])
	broker.Unsubscribe(subs[2])
	assert.Equal(t, 0, broker.SubscriberCount())
}
