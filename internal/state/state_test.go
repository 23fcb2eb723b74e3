package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lexlapax/statecore/internal/backend"
	"github.com/lexlapax/statecore/internal/events"
	"github.com/lexlapax/statecore/internal/hooks"
	"github.com/lexlapax/statecore/internal/scope"
)

func newTestManager(t *testing.T) (*Manager, *events.Bus) {
	t.Helper()
	b := backend.NewMemoryBackend()
	executor := hooks.NewExecutor(time.Second, false)
	bus := events.NewBus(1024, 1000, time.Second)
	m := NewManager(b, executor, bus, StaticSchemaVersion(1), Config{
		PersistenceEnabled: true,
	})
	return m, bus
}

type vetoHook struct {
	reason string
}

func (vetoHook) Metadata() hooks.Metadata {
	return hooks.Metadata{ID: "veto", Priority: 1}
}
func (vetoHook) ShouldExecute(*hooks.Context) bool { return true }
func (h vetoHook) Execute(context.Context, *hooks.Context) (hooks.Result, error) {
	return hooks.Cancel(h.reason), nil
}

type modifyIfHook struct {
	when   any
	become map[string]any
}

func (modifyIfHook) Metadata() hooks.Metadata {
	return hooks.Metadata{ID: "modify", Priority: 1}
}
func (modifyIfHook) ShouldExecute(*hooks.Context) bool { return true }
func (h modifyIfHook) Execute(_ context.Context, hctx *hooks.Context) (hooks.Result, error) {
	if hctx.Data["new"] == h.when {
		return hooks.Modified(h.become), nil
	}
	return hooks.Continue(), nil
}

// Scenario 1: Basic set/get under Global scope.
func TestSetGet_GlobalScope(t *testing.T) {
	m, bus := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	if err := m.Set(ctx, g, "k", map[string]any{"a": float64(1)}, Standard); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := m.Get(ctx, g, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	got, ok := v.(map[string]any)
	if !ok || got["a"] != float64(1) {
		t.Errorf("get = %v, want {a:1}", v)
	}

	found := false
	for _, e := range bus.History() {
		if e.Type == events.TypeStateChanged {
			found = true
			if e.Data["old"] != nil {
				t.Errorf("expected old=nil for first write, got %v", e.Data["old"])
			}
		}
	}
	if !found {
		t.Error("expected one state.changed event")
	}
}

// Scenario 2: Scope isolation (also covers P1).
func TestScopeIsolation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	a1 := scope.NewAgent("a1")
	a2 := scope.NewAgent("a2")

	if err := m.Set(ctx, a1, "key", "A", Standard); err != nil {
		t.Fatalf("set a1: %v", err)
	}
	if err := m.Set(ctx, a2, "key", "B", Standard); err != nil {
		t.Fatalf("set a2: %v", err)
	}

	v1, ok, err := m.Get(ctx, a1, "key")
	if err != nil || !ok || v1 != "A" {
		t.Errorf("get a1 = (%v, %v, %v), want (A, true, nil)", v1, ok, err)
	}
	v2, ok, err := m.Get(ctx, a2, "key")
	if err != nil || !ok || v2 != "B" {
		t.Errorf("get a2 = (%v, %v, %v), want (B, true, nil)", v2, ok, err)
	}

	keys, err := m.ListKeys(ctx, a1)
	if err != nil {
		t.Fatalf("list_keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "key" {
		t.Errorf("list_keys(a1) = %v, want [key]", keys)
	}
}

// Scenario 3 / P5: pre-hook cancel guarantees no write and no state.changed.
func TestPreHookCancel_NoWriteNoChangedEvent(t *testing.T) {
	m, bus := newTestManager(t)
	m.Hooks().Register(hooks.BeforeStateWrite, vetoHook{reason: "veto"})

	ctx := context.Background()
	g := scope.NewGlobal()

	if err := m.Set(ctx, g, "k", "x", Standard); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, ok, err := m.Get(ctx, g, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected key to not exist after cancelled write")
	}

	var changed, cancelled int
	var cancelReason string
	for _, e := range bus.History() {
		switch e.Type {
		case events.TypeStateChanged:
			changed++
		case events.TypeStateCancelled:
			cancelled++
			cancelReason, _ = e.Data["reason"].(string)
		}
	}
	if changed != 0 {
		t.Errorf("changed events = %d, want 0", changed)
	}
	if cancelled != 1 {
		t.Errorf("cancelled events = %d, want 1", cancelled)
	}
	if cancelReason != "veto" {
		t.Errorf("cancel reason = %q, want veto", cancelReason)
	}
}

// Scenario 4: pre-hook Modified replaces the pending value.
func TestPreHookModify_ReplacesValue(t *testing.T) {
	m, _ := newTestManager(t)
	m.Hooks().Register(hooks.BeforeStateWrite, modifyIfHook{
		when:   "x",
		become: map[string]any{"new": "Y"},
	})

	ctx := context.Background()
	g := scope.NewGlobal()

	if err := m.Set(ctx, g, "k", "x", Standard); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := m.Get(ctx, g, "k")
	if err != nil || !ok {
		t.Fatalf("get: (%v, %v, %v)", v, ok, err)
	}
	if v != "Y" {
		t.Errorf("get = %v, want Y", v)
	}
}

// Scenario 6 / P4: invalid key rejected, never written.
func TestInvalidKey_Rejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	err := m.Set(ctx, g, "../etc/passwd", "x", Standard)
	if err == nil {
		t.Fatal("expected InvalidKey error")
	}
	if !scope.IsInvalidKey(err) {
		t.Errorf("err = %v, want *scope.ErrInvalidKey", err)
	}

	keys, _ := m.ListKeys(ctx, g)
	if len(keys) != 0 {
		t.Errorf("expected no keys written, got %v", keys)
	}
}

// P4: key validation is total — random-ish strings never panic and only
// ever return success or InvalidKey.
func TestKeyValidationIsTotal(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	candidates := []string{
		"", "a", "a/b", "../x", "x\x00y", string(make([]byte, 600)),
		"_reserved", "hook_history:x:y", "agent_state:1", "normal-key_1.2",
	}
	for _, c := range candidates {
		err := m.Set(ctx, g, c, "v", Standard)
		if err != nil && !scope.IsInvalidKey(err) {
			t.Errorf("Set(%q) returned non-InvalidKey error: %v", c, err)
		}
	}
}

// Scenario 7 / P6 / P10: concurrent writers to the same key linearize;
// readers never observe a torn value.
func TestConcurrentWriters_Linearize(t *testing.T) {
	m, bus := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if err := m.Set(ctx, g, "c", i, Standard); err != nil {
				t.Errorf("set(%d): %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	v, ok, err := m.Get(ctx, g, "c")
	if err != nil || !ok {
		t.Fatalf("get: (%v, %v, %v)", v, ok, err)
	}
	got, ok := v.(int)
	if !ok || got < 0 || got >= n {
		t.Errorf("get = %v, want one of [0,%d)", v, n)
	}

	changed := 0
	for _, e := range bus.History() {
		if e.Type == events.TypeStateChanged {
			changed++
		}
	}
	if changed != n {
		t.Errorf("changed events = %d, want %d", changed, n)
	}
}

// P3: idempotent delete.
func TestDelete_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	if err := m.Set(ctx, g, "k", "v", Standard); err != nil {
		t.Fatalf("set: %v", err)
	}
	existed, err := m.Delete(ctx, g, "k")
	if err != nil || !existed {
		t.Fatalf("first delete = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = m.Delete(ctx, g, "k")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Error("second delete should report false")
	}
}

// P2: round trip.
func TestRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	want := map[string]any{"nested": []any{float64(1), float64(2)}, "s": "str", "b": true}
	if err := m.Set(ctx, g, "rt", want, Standard); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := m.Get(ctx, g, "rt")
	if err != nil || !ok {
		t.Fatalf("get: (%v, %v, %v)", got, ok, err)
	}
	if diff := cmp.Diff(want, got.(map[string]any)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// Ephemeral class: never reaches the durable backend, cache-only.
func TestEphemeralClass_SkipsBackend(t *testing.T) {
	b := backend.NewMemoryBackend()
	executor := hooks.NewExecutor(time.Second, false)
	bus := events.NewBus(1024, 1000, time.Second)
	m := NewManager(b, executor, bus, StaticSchemaVersion(1), Config{PersistenceEnabled: true})

	ctx := context.Background()
	g := scope.NewGlobal()
	if err := m.Set(ctx, g, "eph", "v", Ephemeral); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Cache hit should still return the value.
	v, ok, err := m.Get(ctx, g, "eph")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get = (%v, %v, %v), want (v, true, nil)", v, ok, err)
	}

	// The adapter itself must never have seen a backend write for this key.
	exists, err := m.adapter.Exists(ctx, "global:eph")
	if err != nil {
		t.Fatalf("adapter.Exists: %v", err)
	}
	if exists {
		t.Error("ephemeral write should not reach the durable backend")
	}
}

// Agent state save/load/delete round trip (§4.E.6).
func TestAgentState_SaveLoadDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s := &PersistentAgentState{
		AgentID:   "agent-1",
		AgentType: "worker",
		State: AgentInnerState{
			ExecutionState: Running,
			CustomData:     map[string]any{"k": "v"},
		},
	}
	if err := m.SaveAgentState(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := m.LoadAgentState(ctx, "agent-1")
	if err != nil || !ok {
		t.Fatalf("load: (%v, %v, %v)", loaded, ok, err)
	}
	if loaded.AgentType != "worker" || loaded.State.ExecutionState != Running {
		t.Errorf("loaded = %+v, want matching agent-1 state", loaded)
	}

	existed, err := m.DeleteAgentState(ctx, "agent-1")
	if err != nil || !existed {
		t.Fatalf("delete: (%v, %v)", existed, err)
	}
	_, ok, err = m.LoadAgentState(ctx, "agent-1")
	if err != nil || ok {
		t.Fatalf("load after delete: (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

// ClearScope deletes every key under a scope and reports a structured
// result rather than a bare error.
func TestClearScope(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g := scope.NewGlobal()

	for _, k := range []string{"a", "b", "c"} {
		if err := m.Set(ctx, g, k, k, Standard); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	result := m.ClearScope(ctx, g)
	if result.Err() != nil {
		t.Fatalf("clear_scope: %v", result.Err())
	}
	if len(result.Completed) != 3 {
		t.Errorf("completed = %v, want 3 entries", result.Completed)
	}
	keys, err := m.ListKeys(ctx, g)
	if err != nil {
		t.Fatalf("list_keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected empty scope after clear, got %v", keys)
	}
}
