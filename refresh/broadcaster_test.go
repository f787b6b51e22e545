package refresh

import (
	"sync"
	"testing"
	"time"
)

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	b.Broadcast(Event{Type: EventStarted, ExecutionId: 1})

	for _, ch := range []<-chan Event{first, second} {
		event := receiveEvent(t, ch)
		if event.Type != EventStarted || event.ExecutionId != 1 {
			t.Errorf("event = %+v", event)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()

	cancel()
	if b.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d after cancel", b.SubscriberCount())
	}

	// The closed channel yields the zero event immediately.
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Second cancel is a no-op.
	cancel()

	b.Broadcast(Event{Type: EventProgress})
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster()
	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()
	live, cancelLive := b.Subscribe()
	defer cancelLive()

	// Overflow the slow subscriber's buffer without draining it.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Broadcast(Event{Type: EventProgress, ExecutionId: i})
		receiveEvent(t, live)
	}

	if b.SubscriberCount() != 1 {
		t.Fatalf("subscribers = %d, want 1 (slow one dropped)", b.SubscriberCount())
	}

	// The slow subscriber's channel must be drained and closed.
	received := 0
	for {
		_, open := <-slow
		if !open {
			break
		}
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d", received, subscriberBuffer)
	}

	// The live subscriber keeps receiving.
	b.Broadcast(Event{Type: EventComplete})
	if event := receiveEvent(t, live); event.Type != EventComplete {
		t.Errorf("event = %+v", event)
	}
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	b := NewBroadcaster()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := b.Subscribe()
			defer cancel()
			for j := 0; j < 50; j++ {
				select {
				case <-ch:
				default:
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Broadcast(Event{Type: EventProgress, ExecutionId: j})
			}
		}()
	}
	wg.Wait()
}
