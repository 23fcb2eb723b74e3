package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lexlapax/statecore/internal/events"
	"github.com/lexlapax/statecore/internal/hooks"
)

// ExecutionState is the agent's current lifecycle phase (§3 Data Model).
type ExecutionState int

const (
	Idle ExecutionState = iota
	Running
	Suspended
	Error
)

func (s ExecutionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// AgentInnerState is the nested `state` object of a PersistentAgentState.
type AgentInnerState struct {
	ConversationHistory []map[string]any `json:"conversation_history"`
	ContextVariables    map[string]any   `json:"context_variables"`
	ToolUsageStats      map[string]int   `json:"tool_usage_stats"`
	ExecutionState      ExecutionState   `json:"execution_state"`
	CustomData          map[string]any   `json:"custom_data"`
}

// PersistentAgentState is the full on-disk shape for an agent's durable
// state (§3 Data Model), stored under key `agent_state:<agent_id>`.
type PersistentAgentState struct {
	AgentID             string          `json:"agent_id"`
	AgentType           string          `json:"agent_type"`
	State               AgentInnerState `json:"state"`
	Metadata            map[string]string `json:"metadata"`
	CreationTime        time.Time       `json:"creation_time"`
	LastModified        time.Time       `json:"last_modified"`
	SchemaVersion       uint32          `json:"schema_version"`
	HookRegistrations   []string        `json:"hook_registrations"`
	LastHookExecution   *time.Time      `json:"last_hook_execution,omitempty"`
	CorrelationContext  string          `json:"correlation_context,omitempty"`
}

func agentStateKey(agentID string) string { return "agent_state:" + agentID }

// SaveAgentState implements §4.E.6: runs the agent-state-save hook points,
// persists the document, appends a hook-history record when
// LastHookExecution is set, and emits `agent_state.saved`.
func (m *Manager) SaveAgentState(ctx context.Context, s *PersistentAgentState) error {
	key := agentStateKey(s.AgentID)
	correlationID := newCorrelationID()

	s.LastModified = time.Now().UTC()
	if s.CreationTime.IsZero() {
		s.CreationTime = s.LastModified
	}
	s.SchemaVersion = m.schemaVersion()

	lock := m.shardFor(key)
	lock.Lock()
	defer lock.Unlock()

	hctx := hooks.NewContext(agentStateSavePoint, hooks.ComponentID{Type: "state", Name: "agent_state_manager"}, correlationID)
	hctx.Data["agent_id"] = s.AgentID
	hctx.Data["agent_type"] = s.AgentType

	outcome := m.runPreHooks(ctx, agentStateSavePoint, hctx)
	if outcome.Kind == hooks.KindCancel {
		m.emit(events.TypeStateCancelled, key, correlationID, map[string]any{
			"agent_id": s.AgentID, "reason": outcome.Reason,
		})
		return nil
	}

	if m.persistenceEnabled {
		if err := m.adapter.Store(ctx, key, s, s.SchemaVersion); err != nil {
			return &ErrBackendError{Detail: err.Error()}
		}
	}
	m.cachePut(key, cacheEntry{value: s, timestamp: s.LastModified, schemaVer: s.SchemaVersion})

	if s.LastHookExecution != nil {
		m.recordHistory(hookHistoryRecord{
			HookID:        "agent_state_save:" + s.AgentID,
			ExecutionID:   newCorrelationID(),
			CorrelationID: correlationID,
			ResultKind:    hooks.KindContinue.String(),
			Timestamp:     time.Now().UTC(),
		})
	}

	postCtx := hctx.Clone()
	m.runPostHooks(ctx, agentStateSaveCompletedPoint, postCtx)

	m.emit("agent_state.saved", key, correlationID, map[string]any{
		"agent_id": s.AgentID, "agent_type": s.AgentType, "schema_version": s.SchemaVersion,
	})
	return nil
}

// LoadAgentState implements §4.E.6: reads the cache then the backend
// document for agentID, returning (nil, false, nil) if absent.
func (m *Manager) LoadAgentState(ctx context.Context, agentID string) (*PersistentAgentState, bool, error) {
	key := agentStateKey(agentID)

	if e, ok := m.cachePeek(key); ok {
		if s, ok := e.value.(*PersistentAgentState); ok {
			return s, true, nil
		}
	}

	if !m.persistenceEnabled {
		return nil, false, nil
	}

	env, ok, err := m.adapter.Load(ctx, key)
	if err != nil {
		return nil, false, &ErrBackendError{Detail: err.Error()}
	}
	if !ok {
		return nil, false, nil
	}

	var s PersistentAgentState
	if err := json.Unmarshal(env.V, &s); err != nil {
		return nil, false, &ErrBackendError{Detail: err.Error()}
	}
	m.cachePut(key, cacheEntry{value: &s, timestamp: env.TS, schemaVer: env.SV})
	return &s, true, nil
}

// DeleteAgentState implements §4.E.6: runs the delete hooks, removes the
// document, and emits `agent_state.deleted`. Returns whether it existed.
func (m *Manager) DeleteAgentState(ctx context.Context, agentID string) (bool, error) {
	key := agentStateKey(agentID)
	correlationID := newCorrelationID()

	lock := m.shardFor(key)
	lock.Lock()
	defer lock.Unlock()

	_, existed := m.cachePeek(key)
	if !existed && m.persistenceEnabled {
		var err error
		existed, err = m.adapter.Exists(ctx, key)
		if err != nil {
			return false, &ErrBackendError{Detail: err.Error()}
		}
	}
	if !existed {
		return false, nil
	}

	hctx := hooks.NewContext(agentStateDeletePoint, hooks.ComponentID{Type: "state", Name: "agent_state_manager"}, correlationID)
	hctx.Data["agent_id"] = agentID
	m.runPreHooks(ctx, agentStateDeletePoint, hctx)

	if m.persistenceEnabled {
		if err := m.adapter.Delete(ctx, key); err != nil {
			return false, &ErrBackendError{Detail: err.Error()}
		}
	}
	m.cacheEvict(key)

	m.emit("agent_state.deleted", key, correlationID, map[string]any{"agent_id": agentID})
	return true, nil
}

// ListAgentStates returns every persisted agent id.
func (m *Manager) ListAgentStates(ctx context.Context) ([]string, error) {
	if !m.persistenceEnabled {
		return nil, nil
	}
	keys, err := m.adapter.ListKeys(ctx, "agent_state:")
	if err != nil {
		return nil, &ErrBackendError{Detail: err.Error()}
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, "agent_state:") {
			out = append(out, strings.TrimPrefix(k, "agent_state:"))
		}
	}
	return out, nil
}

// agent lifecycle hook points used by save/load/delete; distinct from the
// generic BeforeStateWrite/AfterStateWrite points since agent documents
// have their own hook context shape (agent_id, agent_type) per §4.E.6.
var (
	agentStateSavePoint          = hooks.Point("agent_state_save")
	agentStateSaveCompletedPoint = hooks.Point("agent_state_save_completed")
	agentStateDeletePoint        = hooks.Point("agent_state_delete")
)
