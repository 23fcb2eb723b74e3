package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishAndHistory(t *testing.T) {
	b := NewBus(16, 10, 100*time.Millisecond)
	e := New(TypeStateChanged, "state", "corr-1", map[string]any{"key": "k"})
	b.Publish(e)

	time.Sleep(20 * time.Millisecond)
	hist := b.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist))
	}
	if hist[0].ID != e.ID {
		t.Errorf("history entry mismatch")
	}
}

func TestBus_HistoryBounded(t *testing.T) {
	b := NewBus(256, 5, 100*time.Millisecond)
	for i := 0; i < 20; i++ {
		b.Publish(New(TypeStateChanged, "state", "corr", nil))
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(b.History()); got > 5 {
		t.Fatalf("history length %d exceeds cap 5", got)
	}
}

func TestBus_SubscriptionMatchingByEventType(t *testing.T) {
	b := NewBus(16, 10, 200*time.Millisecond)
	var mu sync.Mutex
	received := []Event{}

	b.Subscribe(Subscription{
		EventTypes: map[string]bool{TypeStateDeleted: true},
		Handler: func(e Event) {
			mu.Lock()
			received = append(received, e)
			mu.Unlock()
		},
	})

	b.Publish(New(TypeStateChanged, "state", "corr", nil))
	b.Publish(New(TypeStateDeleted, "state", "corr", nil))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 matching event, got %d", len(received))
	}
	if received[0].Type != TypeStateDeleted {
		t.Errorf("got event type %s", received[0].Type)
	}
}

func TestBus_DropsOnFullChannelWithoutBlocking(t *testing.T) {
	b := NewBus(1, 100, time.Second)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(New(TypeStateChanged, "state", "corr", nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full broadcast channel")
	}
}

func TestCorrelationTracker_EventsForCorrelationAndAgent(t *testing.T) {
	b := NewBus(16, 100, time.Second)
	e1 := New(TypeStateChanged, "state", "corr-x", nil)
	e1.AgentID = "agent-1"
	e2 := New(TypeStateDeleted, "state", "corr-x", nil)
	e2.AgentID = "agent-2"
	b.Publish(e1)
	b.Publish(e2)
	time.Sleep(20 * time.Millisecond)

	corrEvents := b.EventsForCorrelation("corr-x")
	if len(corrEvents) != 2 {
		t.Fatalf("expected 2 events for correlation, got %d", len(corrEvents))
	}
	agentEvents := b.EventsForAgent("agent-1")
	if len(agentEvents) != 1 {
		t.Fatalf("expected 1 event for agent-1, got %d", len(agentEvents))
	}
}
