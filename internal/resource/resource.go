// Package resource implements a per-agent resource accountant: allocation
// tracking with per-agent and global quotas, plugged into internal/state
// as a state.ResourceAccountant at the ResourceAllocated/ResourceDeallocated
// hook points. Grounded on the original's
// llmspell-agents/src/lifecycle/resources.rs ResourceManager, translated
// from its hook-trait/event-system design into a single Go type the State
// Manager calls directly.
package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a resource category. The original enumerates a fixed set
// (memory, cpu, disk, network, tool_access, llm_connection, file_handles,
// thread_pool) plus an open "custom" bucket; here any string is accepted,
// with the fixed names as documented conventions rather than an enum.
type Kind = string

const (
	KindMemory        Kind = "memory"
	KindCPU           Kind = "cpu"
	KindDisk          Kind = "disk"
	KindNetwork       Kind = "network"
	KindToolAccess    Kind = "tool_access"
	KindLLMConnection Kind = "llm_connection"
	KindFileHandles   Kind = "file_handles"
	KindThreadPool    Kind = "thread_pool"
)

// Limits bounds per-agent and global allocation totals per kind.
type Limits struct {
	PerAgent map[Kind]int
	Global   map[Kind]int
}

// DefaultLimits mirrors the original's Default impl for ResourceLimits.
func DefaultLimits() Limits {
	return Limits{
		PerAgent: map[Kind]int{
			KindMemory:        1024 * 1024 * 1024,
			KindCPU:           50,
			KindDisk:          10 * 1024 * 1024 * 1024,
			KindNetwork:       100 * 1024 * 1024,
			KindToolAccess:    50,
			KindLLMConnection: 5,
			KindFileHandles:   1000,
			KindThreadPool:    10,
		},
		Global: map[Kind]int{},
	}
}

// Allocation is a single granted resource, recorded until deallocated.
type Allocation struct {
	ID          string
	AgentID     string
	Kind        Kind
	Amount      int
	AllocatedAt time.Time
}

// Stats mirrors ResourceUsageStats: running counters plus per-kind
// current/peak usage.
type Stats struct {
	TotalAllocations   int
	CurrentAllocations int
	TotalDeallocations int
	FailedAllocations  int
	CurrentByKind      map[Kind]int
	PeakByKind         map[Kind]int
}

// ErrLimitExceeded is returned when an allocation would exceed a per-agent
// or global quota.
type ErrLimitExceeded struct {
	AgentID  string
	Kind     Kind
	Current  int
	Amount   int
	Limit    int
	IsGlobal bool
}

func (e *ErrLimitExceeded) Error() string {
	scope := "per-agent"
	if e.IsGlobal {
		scope = "global"
	}
	return fmt.Sprintf("resource: %s limit exceeded for %s (agent %s): %d + %d > %d",
		scope, e.Kind, e.AgentID, e.Current, e.Amount, e.Limit)
}

// ErrAllocationNotFound is returned by Deallocate for an unknown id.
type ErrAllocationNotFound struct{ ID string }

func (e *ErrAllocationNotFound) Error() string {
	return fmt.Sprintf("resource: allocation %q not found", e.ID)
}

// Manager tracks allocations per agent and enforces Limits. It implements
// state.ResourceAccountant (Allocate/Deallocate) without importing
// internal/state, keeping the dependency direction state -> resource.
type Manager struct {
	mu          sync.Mutex
	limits      Limits
	byAgent     map[string][]*Allocation
	byID        map[string]*Allocation
	stats       Stats
}

func NewManager(limits Limits) *Manager {
	return &Manager{
		limits:  limits,
		byAgent: make(map[string][]*Allocation),
		byID:    make(map[string]*Allocation),
		stats: Stats{
			CurrentByKind: make(map[Kind]int),
			PeakByKind:    make(map[Kind]int),
		},
	}
}

// Allocate grants amount units of kind to agentID, enforcing per-agent and
// global limits, and returns the new allocation's id.
func (m *Manager) Allocate(ctx context.Context, agentID, kind string, amount int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit, ok := m.limits.PerAgent[kind]; ok {
		current := m.agentUsageLocked(agentID, kind)
		if current+amount > limit {
			m.stats.FailedAllocations++
			return "", &ErrLimitExceeded{AgentID: agentID, Kind: kind, Current: current, Amount: amount, Limit: limit}
		}
	}
	if limit, ok := m.limits.Global[kind]; ok {
		current := m.stats.CurrentByKind[kind]
		if current+amount > limit {
			m.stats.FailedAllocations++
			return "", &ErrLimitExceeded{AgentID: agentID, Kind: kind, Current: current, Amount: amount, Limit: limit, IsGlobal: true}
		}
	}

	alloc := &Allocation{ID: uuid.NewString(), AgentID: agentID, Kind: kind, Amount: amount, AllocatedAt: time.Now().UTC()}
	m.byAgent[agentID] = append(m.byAgent[agentID], alloc)
	m.byID[alloc.ID] = alloc

	m.stats.TotalAllocations++
	m.stats.CurrentAllocations++
	m.stats.CurrentByKind[kind] += amount
	if m.stats.CurrentByKind[kind] > m.stats.PeakByKind[kind] {
		m.stats.PeakByKind[kind] = m.stats.CurrentByKind[kind]
	}

	return alloc.ID, nil
}

// Deallocate releases a previously granted allocation.
func (m *Manager) Deallocate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.byID[id]
	if !ok {
		return &ErrAllocationNotFound{ID: id}
	}
	delete(m.byID, id)

	agentAllocs := m.byAgent[alloc.AgentID]
	for i, a := range agentAllocs {
		if a.ID == id {
			agentAllocs = append(agentAllocs[:i], agentAllocs[i+1:]...)
			break
		}
	}
	if len(agentAllocs) == 0 {
		delete(m.byAgent, alloc.AgentID)
	} else {
		m.byAgent[alloc.AgentID] = agentAllocs
	}

	m.stats.TotalDeallocations++
	if m.stats.CurrentAllocations > 0 {
		m.stats.CurrentAllocations--
	}
	if m.stats.CurrentByKind[alloc.Kind] >= alloc.Amount {
		m.stats.CurrentByKind[alloc.Kind] -= alloc.Amount
	} else {
		m.stats.CurrentByKind[alloc.Kind] = 0
	}
	return nil
}

// DeallocateAll releases every allocation held by agentID, used when an
// agent terminates (mirrors the original's deallocate_all).
func (m *Manager) DeallocateAll(ctx context.Context, agentID string) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byAgent[agentID]))
	for _, a := range m.byAgent[agentID] {
		ids = append(ids, a.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Deallocate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// AgentAllocations returns a snapshot of agentID's current allocations.
func (m *Manager) AgentAllocations(agentID string) []Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Allocation, 0, len(m.byAgent[agentID]))
	for _, a := range m.byAgent[agentID] {
		out = append(out, *a)
	}
	return out
}

// UsageStats returns a snapshot of the manager's running counters.
func (m *Manager) UsageStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKind := make(map[Kind]int, len(m.stats.CurrentByKind))
	for k, v := range m.stats.CurrentByKind {
		byKind[k] = v
	}
	peak := make(map[Kind]int, len(m.stats.PeakByKind))
	for k, v := range m.stats.PeakByKind {
		peak[k] = v
	}
	s := m.stats
	s.CurrentByKind = byKind
	s.PeakByKind = peak
	return s
}

func (m *Manager) agentUsageLocked(agentID, kind string) int {
	total := 0
	for _, a := range m.byAgent[agentID] {
		if a.Kind == kind {
			total += a.Amount
		}
	}
	return total
}
