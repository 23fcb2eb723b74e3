package events

import "sync"

// CorrelationTracker links events sharing a correlation_id and exposes
// lookup by correlation id and by agent id (§4.D).
type CorrelationTracker struct {
	mu          sync.RWMutex
	byCorrelate map[string][]Event
	byAgent     map[string][]Event
}

func NewCorrelationTracker() *CorrelationTracker {
	return &CorrelationTracker{
		byCorrelate: make(map[string][]Event),
		byAgent:     make(map[string][]Event),
	}
}

func (c *CorrelationTracker) record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.CorrelationID != "" {
		c.byCorrelate[e.CorrelationID] = append(c.byCorrelate[e.CorrelationID], e)
	}
	if e.AgentID != "" {
		c.byAgent[e.AgentID] = append(c.byAgent[e.AgentID], e)
	}
}

func (c *CorrelationTracker) forCorrelation(id string) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.byCorrelate[id]))
	copy(out, c.byCorrelate[id])
	return out
}

func (c *CorrelationTracker) forAgent(agentID string) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.byAgent[agentID]))
	copy(out, c.byAgent[agentID])
	return out
}
