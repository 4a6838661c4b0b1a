package connectivity

import "testing"

// TestInitialState tests that the constructor seeds the flag.
func TestInitialState(t *testing.T) {
	if NewMonitor(true).IsOnline() != true {
		t.Error("Expected online monitor")
	}
	if NewMonitor(false).IsOnline() != false {
		t.Error("Expected offline monitor")
	}
}

// TestTransitionEdges tests that listeners fire once per actual change.
func TestTransitionEdges(t *testing.T) {
	m := NewMonitor(false)

	var edges []bool
	m.Subscribe(func(online bool) { edges = append(edges, online) })

	m.SetOnline(false) // no change
	m.SetOnline(true)  // edge
	m.SetOnline(true)  // no change
	m.SetOnline(false) // edge

	if len(edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d: %v", len(edges), edges)
	}
	if edges[0] != true || edges[1] != false {
		t.Errorf("Unexpected edge sequence: %v", edges)
	}
}

// TestUnsubscribe tests listener removal mid-stream.
func TestUnsubscribe(t *testing.T) {
	m := NewMonitor(false)

	var calls int
	id := m.Subscribe(func(online bool) { calls++ })

	m.SetOnline(true)
	m.Unsubscribe(id)
	m.SetOnline(false)

	if calls != 1 {
		t.Errorf("Expected 1 call after unsubscribe, got %d", calls)
	}

	// Unknown IDs are ignored
	m.Unsubscribe(id)
	m.Unsubscribe(404)
}

// TestMultipleListeners tests that every listener sees every edge.
func TestMultipleListeners(t *testing.T) {
	m := NewMonitor(false)

	var a, b int
	m.Subscribe(func(online bool) { a++ })
	m.Subscribe(func(online bool) { b++ })

	m.SetOnline(true)
	m.SetOnline(false)

	if a != 2 || b != 2 {
		t.Errorf("Expected both listeners to see 2 edges, got %d and %d", a, b)
	}
}

// TestListenerReadsState tests that the monitor reflects the new state by
// the time listeners fire.
func TestListenerReadsState(t *testing.T) {
	m := NewMonitor(false)

	m.Subscribe(func(online bool) {
		if m.IsOnline() != online {
			t.Errorf("Listener saw state %v but monitor reports %v", online, m.IsOnline())
		}
	})

	m.SetOnline(true)
	m.SetOnline(false)
}
