package state

import (
	"context"
	"strconv"
	"time"

	"github.com/lexlapax/statecore/internal/events"
	"github.com/lexlapax/statecore/internal/hooks"
)

// LifecycleEventData is the typed payload for an agent lifecycle hook
// point (§4.C agent lifecycle points), reused from the original's
// LifecycleEventData shape (SUPPLEMENTED FEATURES) instead of an untyped
// map. Exactly one of the fields is populated, matching the variant the
// caller constructed it with.
type LifecycleEventData struct {
	StateTransition *StateTransitionData `json:"state_transition,omitempty"`
	ErrorInfo       *ErrorData           `json:"error,omitempty"`
	Health          *HealthData          `json:"health,omitempty"`
	Resource        *ResourceData        `json:"resource,omitempty"`
	Generic         *GenericData         `json:"generic,omitempty"`
}

type StateTransitionData struct {
	From     ExecutionState `json:"from"`
	To       ExecutionState `json:"to"`
	Duration time.Duration  `json:"duration,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type ErrorData struct {
	Message          string `json:"message"`
	ErrorType        string `json:"error_type"`
	RecoveryPossible bool   `json:"recovery_possible"`
}

type HealthData struct {
	IsHealthy bool              `json:"is_healthy"`
	Status    string            `json:"status"`
	Metrics   map[string]string `json:"metrics"`
}

type ResourceData struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Amount       int    `json:"amount,omitempty"`
	Status       string `json:"status"`
}

type GenericData struct {
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

// FireLifecycle runs the hooks registered at point for an agent lifecycle
// transition and emits a matching event. It is the generic driver behind
// the Initialization/Execution/Paused/Resumed/Termination/ErrorOccurred/
// Recovery/HealthCheck points in §4.C.
func (m *Manager) FireLifecycle(ctx context.Context, point hooks.Point, agentID string, data LifecycleEventData) hooks.Outcome {
	correlationID := newCorrelationID()
	hctx := hooks.NewContext(point, hooks.ComponentID{Type: "agent", Name: agentID}, correlationID)
	hctx.Data["agent_id"] = agentID
	hctx.Data["payload"] = data

	outcome := m.runPreHooks(ctx, point, hctx)
	if outcome.Kind == hooks.KindCancel {
		return outcome
	}

	e := events.New(string(point), "agent_lifecycle", correlationID, map[string]any{
		"agent_id": agentID, "payload": data,
	})
	e.AgentID = agentID
	if m.bus != nil {
		m.bus.Publish(e)
	}
	return outcome
}

// AllocateResource fires ResourceAllocated and, if a ResourceAccountant is
// configured, records the allocation, returning the allocation id so the
// caller can later deallocate it. Absence of an accountant is not an error
// (§6); in that case a correlation id stands in as the resource id.
func (m *Manager) AllocateResource(ctx context.Context, agentID, kind string, n int) (string, error) {
	id := newCorrelationID()
	if m.res != nil {
		allocID, err := m.res.Allocate(ctx, agentID, kind, n)
		if err != nil {
			return "", err
		}
		id = allocID
	}
	m.FireLifecycle(ctx, hooks.ResourceAllocated, agentID, LifecycleEventData{
		Resource: &ResourceData{ResourceType: kind, ResourceID: id, Amount: n, Status: "allocated"},
	})
	return id, nil
}

// DeallocateResource fires ResourceDeallocated and, if a ResourceAccountant
// is configured, records the deallocation.
func (m *Manager) DeallocateResource(ctx context.Context, agentID, id string) error {
	if m.res != nil {
		if err := m.res.Deallocate(ctx, id); err != nil {
			return err
		}
	}
	m.FireLifecycle(ctx, hooks.ResourceDeallocated, agentID, LifecycleEventData{
		Resource: &ResourceData{ResourceID: id, Status: "deallocated"},
	})
	return nil
}

// HealthCheck implements the health-check hook point exerciser
// (SUPPLEMENTED FEATURES): walks the per-key shard locks (confirming none
// are stuck) and flushes the backend, mirroring the spirit of the
// original's agent health monitor without adding a REPL/CLI surface.
func (m *Manager) HealthCheck(ctx context.Context, agentID string) (HealthData, error) {
	for i := range m.shards {
		m.shards[i].Lock()
		m.shards[i].Unlock()
	}
	status := "ok"
	var flushErr error
	if m.persistenceEnabled {
		flushErr = m.Save(ctx)
		if flushErr != nil {
			status = "degraded"
		}
	}
	m.cacheMu.RLock()
	cacheEntries := len(m.cache)
	m.cacheMu.RUnlock()
	health := HealthData{IsHealthy: flushErr == nil, Status: status, Metrics: map[string]string{
		"cache_entries": strconv.Itoa(cacheEntries),
		"shard_count":   strconv.Itoa(m.shardCount),
	}}
	m.FireLifecycle(ctx, hooks.HealthCheck, agentID, LifecycleEventData{Health: &health})
	return health, flushErr
}
