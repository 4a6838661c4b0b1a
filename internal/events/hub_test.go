package events

import (
	"sync"
	"testing"
)

// TestPublishSubscribe tests basic fan-out to multiple handlers.
func TestPublishSubscribe(t *testing.T) {
	h := NewHub()

	var first, second []Event
	h.Subscribe(func(e Event) { first = append(first, e) })
	h.Subscribe(func(e Event) { second = append(second, e) })

	h.Publish(EventMessageQueued, map[string]interface{}{"message_id": "msg-1"})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Expected both handlers notified, got %d and %d", len(first), len(second))
	}
	if first[0].Type != EventMessageQueued {
		t.Errorf("Expected type %s, got %s", EventMessageQueued, first[0].Type)
	}
	if first[0].Data["message_id"] != "msg-1" {
		t.Errorf("Unexpected event data: %v", first[0].Data)
	}
	if first[0].Timestamp == 0 {
		t.Error("Expected stamped timestamp")
	}
}

// TestUnsubscribe tests handler removal and unknown-ID tolerance.
func TestUnsubscribe(t *testing.T) {
	h := NewHub()

	var calls int
	id := h.Subscribe(func(e Event) { calls++ })

	h.Publish(EventSyncStarted, nil)
	h.Unsubscribe(id)
	h.Publish(EventSyncStarted, nil)

	if calls != 1 {
		t.Errorf("Expected 1 call after unsubscribe, got %d", calls)
	}

	// Unknown and repeated IDs are ignored
	h.Unsubscribe(id)
	h.Unsubscribe(9999)

	if h.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", h.SubscriberCount())
	}
}

// TestUnsubscribeFromHandler tests self-removal inside a callback.
func TestUnsubscribeFromHandler(t *testing.T) {
	h := NewHub()

	var calls int
	var id int
	id = h.Subscribe(func(e Event) {
		calls++
		h.Unsubscribe(id)
	})

	h.Publish(EventSyncCompleted, nil)
	h.Publish(EventSyncCompleted, nil)

	if calls != 1 {
		t.Errorf("Expected exactly 1 call, got %d", calls)
	}
}

// TestPanickingHandler tests that a panic never reaches the publisher and
// other handlers still receive the event.
func TestPanickingHandler(t *testing.T) {
	h := NewHub()

	h.Subscribe(func(e Event) { panic("handler bug") })
	var survived int
	h.Subscribe(func(e Event) { survived++ })

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Panic escaped the hub: %v", r)
		}
	}()
	h.Publish(EventSyncFailed, nil)

	if survived != 1 {
		t.Errorf("Expected the healthy handler to run, got %d calls", survived)
	}
}

// TestConcurrentPublish tests publishing from many goroutines at once.
func TestConcurrentPublish(t *testing.T) {
	h := NewHub()

	var mu sync.Mutex
	var calls int
	h.Subscribe(func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(EventMeasurement, nil)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 500 {
		t.Errorf("Expected 500 deliveries, got %d", calls)
	}
}
