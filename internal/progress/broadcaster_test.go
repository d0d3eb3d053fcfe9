package progress

import (
	"testing"
	"time"

	"cliparr/internal/logging"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	b := NewBroadcaster(nil, logging.NewNop())
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Type: "ffmpeg-progress", JobID: 7, Percent: 50})

	select {
	case evt := <-events:
		if evt.JobID != 7 || evt.Percent != 50 {
			t.Fatalf("unexpected event: %#v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDropsOldestNotNewest(t *testing.T) {
	b := NewBroadcaster(nil, logging.NewNop())
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Overfill the private buffer without draining; Publish must never block.
	total := subscriberBufferSize + 10
	for i := 0; i < total; i++ {
		b.Publish(Event{JobID: int64(i)})
	}

	received := make([]int64, 0, subscriberBufferSize)
	for {
		select {
		case evt := <-events:
			received = append(received, evt.JobID)
			continue
		default:
		}
		break
	}
	if len(received) != subscriberBufferSize {
		t.Fatalf("buffered %d events, want %d", len(received), subscriberBufferSize)
	}
	// The newest event survives; the oldest were dropped.
	if received[len(received)-1] != int64(total-1) {
		t.Fatalf("newest event lost, last = %d", received[len(received)-1])
	}
	if received[0] == 0 {
		t.Fatal("oldest event should have been dropped")
	}
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	b := NewBroadcaster(nil, logging.NewNop())
	events, unsubscribe := b.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or block.
	b.Publish(Event{JobID: 1})
}

func TestNilBroadcasterPublishIsSafe(t *testing.T) {
	var b *Broadcaster
	b.Publish(Event{JobID: 1})
}
