package events

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexlapax/statecore/internal/logging"
)

// Subscription matches events by any combination of agent_id, event_types,
// and a listener-defined predicate (§4.D).
type Subscription struct {
	id           int64
	AgentID      string
	EventTypes   map[string]bool
	Predicate    func(Event) bool
	Handler      func(Event)
	ProcessingTO time.Duration
}

func (s *Subscription) matches(e Event) bool {
	if s.AgentID != "" && s.AgentID != e.AgentID {
		return false
	}
	if len(s.EventTypes) > 0 && !s.EventTypes[e.Type] {
		return false
	}
	if s.Predicate != nil && !s.Predicate(e) {
		return false
	}
	return true
}

// Stats tracks bus-wide counters surfaced for observability.
type Stats struct {
	Published          int
	Dropped             int
	ProcessingFailures  int
}

// Bus is the bounded broadcast channel plus bounded FIFO history plus
// correlation tracker described in §4.D.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[int64]*Subscription
	nextSubID     int64

	history    *ring
	correlator *CorrelationTracker

	broadcast chan Event

	statsMu sync.Mutex
	stats   Stats

	defaultListenerTimeout time.Duration
}

// NewBus constructs a Bus with the given broadcast channel capacity and
// history cap (§6: correlation.broadcast_capacity, persistence.max_history_size).
func NewBus(broadcastCapacity, historyCap int, listenerTimeout time.Duration) *Bus {
	b := &Bus{
		subscriptions:          make(map[int64]*Subscription),
		history:                newRing(historyCap),
		correlator:             NewCorrelationTracker(),
		broadcast:              make(chan Event, broadcastCapacity),
		defaultListenerTimeout: listenerTimeout,
	}
	go b.drain()
	return b
}

// drain is the single consumer of the broadcast channel; it dispatches to
// matching subscriptions in parallel via an errgroup (one goroutine per
// matching subscription, no concurrency limit), each under its
// own processing timeout, so a slow listener never blocks another (§4.D).
func (b *Bus) drain() {
	for e := range b.broadcast {
		b.dispatch(e)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		if s.matches(e) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, s := range subs {
		s := s
		g.Go(func() error {
			timeout := s.ProcessingTO
			if timeout <= 0 {
				timeout = b.defaultListenerTimeout
			}
			done := make(chan struct{})
			go func() {
				defer close(done)
				s.Handler(e)
			}()
			select {
			case <-done:
				return nil
			case <-time.After(timeout):
				b.statsMu.Lock()
				b.stats.ProcessingFailures++
				b.statsMu.Unlock()
				logging.EventsWarn("listener for subscription %d exceeded processing timeout", s.id)
				return nil
			}
		})
	}
	_ = g.Wait()
}

// Publish is best-effort: a full broadcast channel drops the event and
// increments a counter rather than blocking the originating mutation.
func (b *Bus) Publish(e Event) {
	b.history.push(e)
	b.correlator.record(e)

	b.statsMu.Lock()
	b.stats.Published++
	b.statsMu.Unlock()

	select {
	case b.broadcast <- e:
	default:
		b.statsMu.Lock()
		b.stats.Dropped++
		b.statsMu.Unlock()
		logging.EventsWarn("broadcast channel full, dropped event %s (%s)", e.ID, e.Type)
	}
}

// Subscribe registers a new Subscription and returns its handle for Unsubscribe.
func (b *Bus) Subscribe(sub Subscription) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub.id = b.nextSubID
	b.subscriptions[sub.id] = &sub
	return sub.id
}

func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// HasSubscriptionFor reports whether any live subscription would match
// events of the given type — used to decide whether to emit state.read
// at all (§4.E.2, §9 Open Questions).
func (b *Bus) HasSubscriptionFor(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscriptions {
		if len(s.EventTypes) == 0 || s.EventTypes[eventType] {
			return true
		}
	}
	return false
}

// History returns the bounded history, oldest first.
func (b *Bus) History() []Event {
	return b.history.items()
}

// Stats returns a snapshot of bus-wide counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// EventsForCorrelation returns all events recorded under a correlation id.
func (b *Bus) EventsForCorrelation(id string) []Event {
	return b.correlator.forCorrelation(id)
}

// EventsForAgent returns all events recorded for a given agent id.
func (b *Bus) EventsForAgent(agentID string) []Event {
	return b.correlator.forAgent(agentID)
}
