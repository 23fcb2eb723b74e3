// Command statecored wires the Stateful Agent Runtime Core together and
// exercises it once: load config, construct backend/hooks/events/schema,
// run a handful of state operations and one schema migration, and log the
// outcome. It is a wiring demonstration, not a REPL or service — the
// script/CLI frontend is out of scope per SPEC_FULL.md §1.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lexlapax/statecore/internal/authz"
	"github.com/lexlapax/statecore/internal/backend"
	"github.com/lexlapax/statecore/internal/config"
	"github.com/lexlapax/statecore/internal/events"
	"github.com/lexlapax/statecore/internal/hooks"
	"github.com/lexlapax/statecore/internal/logging"
	"github.com/lexlapax/statecore/internal/resource"
	"github.com/lexlapax/statecore/internal/schema"
	"github.com/lexlapax/statecore/internal/scope"
	"github.com/lexlapax/statecore/internal/state"
)

func main() {
	fmt.Println("Starting statecored...")

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logging.ApplyConfig(cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.Format == "json", cfg.Logging.Categories)

	b := backend.NewMemoryBackend()

	executor := hooks.NewExecutor(cfg.HookTimeout(), cfg.Hooks.FailFast)
	bus := events.NewBus(cfg.Correlation.BroadcastCapacity, cfg.Persistence.MaxHistorySize, 2*time.Second)

	registry := schema.NewRegistry()
	if err := registry.Register(schema.Schema{
		Version: schema.SemanticVersion{Major: 1, Minor: 0, Patch: 0},
		Fields: map[string]schema.FieldSchema{
			"name": {Type: schema.TypeString, Required: true},
		},
	}); err != nil {
		log.Fatalf("register schema v1: %v", err)
	}
	if err := registry.Register(schema.Schema{
		Version: schema.SemanticVersion{Major: 2, Minor: 0, Patch: 0},
		Fields: map[string]schema.FieldSchema{
			"name":  {Type: schema.TypeString, Required: true},
			"email": {Type: schema.TypeString, Required: true, Default: "u@example"},
		},
	}); err != nil {
		log.Fatalf("register schema v2: %v", err)
	}
	if err := registry.SetCurrent(schema.SemanticVersion{Major: 1, Minor: 0, Patch: 0}); err != nil {
		log.Fatalf("set current schema: %v", err)
	}

	policy := authz.NewPolicy()
	resourceMgr := resource.NewManager(resource.DefaultLimits())

	manager := state.NewManager(b, executor, bus, registry, state.Config{
		PersistenceEnabled: cfg.Persistence.Enabled,
		MaxCacheEntries:    cfg.Cache.MaxEntries,
		MaxHistorySize:     cfg.Persistence.MaxHistorySize,
		Authz:              policy,
		Resources:          resourceMgr,
	})

	// Register an illustrative audit hook: runs at BeforeStateWrite and logs
	// each pending write before it is applied.
	executor.Register(hooks.BeforeStateWrite, auditHook{})

	ctx := context.Background()
	g := scope.NewGlobal()

	if err := manager.Set(ctx, g, "user", map[string]any{"name": "Alice"}, state.Standard); err != nil {
		log.Fatalf("set: %v", err)
	}
	v, ok, err := manager.Get(ctx, g, "user")
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	fmt.Printf("stored value (ok=%v): %v\n", ok, v)

	planner := schema.NewPlanner(registry)
	plan, err := planner.Plan(schema.SemanticVersion{Major: 1}, schema.SemanticVersion{Major: 2})
	if err != nil {
		log.Fatalf("plan migration: %v", err)
	}
	fmt.Printf("migration plan: %d hop(s), risk=%s, requires_backup=%v\n", len(plan.Steps), plan.RiskLevel, plan.RequiresBackup)

	engine := schema.NewEngine(manager, registry, schema.EngineConfig{
		BatchSize:       cfg.Migration.BatchSize,
		RollbackOnError: cfg.Migration.RollbackOnError,
		Timeout:         cfg.MigrationTimeout(),
	})
	result, err := engine.Run(ctx, plan)
	if err != nil {
		log.Fatalf("run migration: %v", err)
	}
	fmt.Printf("migration result: items_migrated=%d duration=%s\n", result.ItemsMigrated, result.Duration)

	v, ok, err = manager.Get(ctx, g, "user")
	if err != nil {
		log.Fatalf("get after migration: %v", err)
	}
	fmt.Printf("migrated value (ok=%v): %v\n", ok, v)

	fmt.Println("statecored exercise complete.")
}

// auditHook is a trivial BeforeStateWrite hook that always continues; it
// demonstrates the Hook capability set (Metadata/ShouldExecute/Execute)
// without vetoing or modifying anything.
type auditHook struct{}

func (auditHook) Metadata() hooks.Metadata {
	return hooks.Metadata{ID: "audit", Name: "audit logger", Priority: 0, Tags: []string{"audit"}}
}

func (auditHook) ShouldExecute(*hooks.Context) bool { return true }

func (auditHook) Execute(_ context.Context, hctx *hooks.Context) (hooks.Result, error) {
	logging.StateDebug("audit: %s on %v (correlation=%s)", hctx.Point, hctx.Data["key"], hctx.CorrelationID)
	return hooks.Continue(), nil
}
