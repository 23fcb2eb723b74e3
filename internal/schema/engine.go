package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexlapax/statecore/internal/backend"
	"github.com/lexlapax/statecore/internal/events"
	"github.com/lexlapax/statecore/internal/hooks"
	"github.com/lexlapax/statecore/internal/logging"
)

// ManagerFacet is the minimum surface the migration Engine needs from
// internal/state.Manager: raw (hook-bypassing) load/store/delete over
// scoped keys, plus the hook executor and event bus the engine drives its
// own PreMigration/PostMigration/MigrationStep points and
// migration.* events through (§4.F Engine; §9 Design Notes — state and
// schema would otherwise import each other, so schema depends on this
// narrow interface rather than the concrete *state.Manager type).
type ManagerFacet interface {
	AllScopedKeys(ctx context.Context) ([]string, error)
	RawLoad(ctx context.Context, scopedKey string) (backend.Envelope, bool, error)
	RawStore(ctx context.Context, scopedKey string, value any, schemaVersion uint32) error
	RawDelete(ctx context.Context, scopedKey string) error
	Hooks() *hooks.Executor
	Bus() *events.Bus
}

// Phase is the migration engine's own state machine (§9 Design Notes:
// Planning -> Snapshotting -> Applying(batch_i) -> Committing | RollingBack).
type Phase int

const (
	PhasePlanning Phase = iota
	PhaseSnapshotting
	PhaseApplying
	PhaseCommitting
	PhaseRollingBack
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "planning"
	case PhaseSnapshotting:
		return "snapshotting"
	case PhaseApplying:
		return "applying"
	case PhaseCommitting:
		return "committing"
	case PhaseRollingBack:
		return "rolling_back"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EngineConfig controls batching and rollback behavior (§6: migration.*).
type EngineConfig struct {
	BatchSize       int
	RollbackOnError bool
	Timeout         time.Duration
}

// Result is the outcome of an Engine.Run call (§3 Data Model: Migration
// Result), itself emittable as an event.
type Result struct {
	ItemsMigrated int
	Duration      time.Duration
	RolledBack    bool
	LastError     error
}

// Snapshot is an in-memory backup of scoped-key -> raw value taken before
// a requires_backup migration, used for rollback when the backend has no
// native snapshot facility (§4.F Engine step 2: "falls back to in-memory
// list for pure-memory backends").
type Snapshot struct {
	entries map[string]backend.Envelope
}

// Engine executes a Plan over the keys belonging to the current schema
// (§4.F Engine).
type Engine struct {
	manager   ManagerFacet
	registry  *Registry
	transform *Transformer
	validator *Validator
	cfg       EngineConfig
}

func NewEngine(manager ManagerFacet, registry *Registry, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Engine{
		manager:   manager,
		registry:  registry,
		transform: NewTransformer(),
		validator: NewValidator(),
		cfg:       cfg,
	}
}

// ErrMigrationInProgress is the error value for a migration requested while
// another is in flight. Engine.Run does not track in-flight runs and never
// returns it; concurrent Run calls are not serialized by the Engine.
var ErrMigrationInProgress = fmt.Errorf("schema: migration already in progress")

// ErrMigrationFailed carries the partial-progress report required by §7's
// propagation policy for migration failures.
type ErrMigrationFailed struct {
	Completed int
	Remaining int
	LastErr   error
}

func (e *ErrMigrationFailed) Error() string {
	return fmt.Sprintf("schema: migration failed: %d completed, %d remaining: %v", e.Completed, e.Remaining, e.LastErr)
}

// Run drives the full Planning -> Snapshotting -> Applying -> Committing |
// RollingBack state machine for plan (§4.F Engine, §9 Design Notes).
// Between batches the context is checked for cancellation, allowing a
// caller to cancel a long migration cleanly; per-config that either
// resumes on the next Run or rolls back if RollbackOnError is set.
func (e *Engine) Run(ctx context.Context, plan *Plan) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	correlationID := fmt.Sprintf("migration-%s-to-%s", plan.From, plan.To)
	result := &Result{}
	start := time.Now()

	e.fireHookPoint(ctx, hooks.PreMigration, correlationID, plan)
	e.emit(events.TypeMigrationStarted, correlationID, map[string]any{"from": plan.From.String(), "to": plan.To.String()})

	phase := PhasePlanning
	var snap *Snapshot

	if plan.RequiresBackup || e.cfg.RollbackOnError {
		phase = PhaseSnapshotting
		logging.MigrationDebug("migration %s: taking snapshot before applying", correlationID)
		s, err := e.takeSnapshot(ctx)
		if err != nil {
			return e.fail(ctx, correlationID, result, phase, fmt.Errorf("snapshot failed: %w", err))
		}
		snap = s
	}

	phase = PhaseApplying
	keys, err := e.manager.AllScopedKeys(ctx)
	if err != nil {
		return e.fail(ctx, correlationID, result, phase, err)
	}

	for _, step := range plan.Steps {
		migrated, err := e.applyHop(ctx, correlationID, keys, step)
		result.ItemsMigrated += migrated
		if err != nil {
			if e.cfg.RollbackOnError && snap != nil {
				phase = PhaseRollingBack
				e.restoreSnapshot(ctx, snap)
				result.RolledBack = true
				e.emit(events.TypeMigrationRolledback, correlationID, map[string]any{"items_migrated": result.ItemsMigrated})
				return result, &ErrMigrationFailed{Completed: result.ItemsMigrated, Remaining: len(keys) - result.ItemsMigrated, LastErr: err}
			}
			return e.fail(ctx, correlationID, result, phase, err)
		}
		select {
		case <-ctx.Done():
			return e.fail(ctx, correlationID, result, phase, ctx.Err())
		default:
		}
	}

	phase = PhaseCommitting
	if err := e.registry.SetCurrent(plan.To); err != nil {
		return e.fail(ctx, correlationID, result, phase, err)
	}

	result.Duration = time.Since(start)
	e.fireHookPoint(ctx, hooks.PostMigration, correlationID, plan)
	e.emit(events.TypeMigrationCompleted, correlationID, map[string]any{
		"items_migrated": result.ItemsMigrated, "duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

func (e *Engine) fail(ctx context.Context, correlationID string, result *Result, phase Phase, err error) (*Result, error) {
	result.LastError = err
	e.emit(events.TypeMigrationFailed, correlationID, map[string]any{"phase": phase.String(), "error": err.Error()})
	logging.MigrationError("migration %s failed in phase %s: %v", correlationID, phase, err)
	return result, err
}

// applyHop runs load -> transform -> validate -> store over every key for
// one hop of the plan, batched per BatchSize, reporting progress between
// batches (§4.F Engine step 3).
func (e *Engine) applyHop(ctx context.Context, correlationID string, keys []string, step Step) (int, error) {
	toSchema, err := e.registry.Get(step.To)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for i := 0; i < len(keys); i += e.cfg.BatchSize {
		end := i + e.cfg.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]

		for _, key := range batch {
			env, ok, err := e.manager.RawLoad(ctx, key)
			if err != nil || !ok {
				continue
			}
			if env.SV != step.From.Major {
				continue // not at the version this hop migrates from
			}

			var fields map[string]any
			if err := json.Unmarshal(env.V, &fields); err != nil {
				// Non-object values (scalars, arrays) aren't field-transformable;
				// only the schema_version stamp advances for them.
				if err := e.manager.RawStore(ctx, key, json.RawMessage(env.V), step.To.Major); err != nil {
					return migrated, err
				}
				migrated++
				continue
			}

			transformed, err := e.transform.Apply(fields, step.Transformation)
			if err != nil {
				return migrated, err
			}

			report := e.validator.Validate(transformed, toSchema, Standard)
			if !report.OK {
				return migrated, fmt.Errorf("validation failed for key %q: %+v", key, report.Errors)
			}

			if err := e.manager.RawStore(ctx, key, transformed, step.To.Major); err != nil {
				return migrated, err
			}
			migrated++
		}

		e.fireMigrationStep(ctx, correlationID, step, i, end, len(keys))
		select {
		case <-ctx.Done():
			return migrated, ctx.Err()
		default:
		}
	}
	return migrated, nil
}

func (e *Engine) takeSnapshot(ctx context.Context) (*Snapshot, error) {
	keys, err := e.manager.AllScopedKeys(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{entries: make(map[string]backend.Envelope, len(keys))}
	for _, k := range keys {
		env, ok, err := e.manager.RawLoad(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			snap.entries[k] = env
		}
	}
	return snap, nil
}

func (e *Engine) restoreSnapshot(ctx context.Context, snap *Snapshot) {
	for key, env := range snap.entries {
		if err := e.manager.RawStore(ctx, key, json.RawMessage(env.V), env.SV); err != nil {
			logging.MigrationError("rollback: failed to restore key %q: %v", key, err)
		}
	}
}

func (e *Engine) fireHookPoint(ctx context.Context, point hooks.Point, correlationID string, plan *Plan) {
	executor := e.manager.Hooks()
	if executor == nil {
		return
	}
	hctx := hooks.NewContext(point, hooks.ComponentID{Type: "schema", Name: "migration_engine"}, correlationID)
	hctx.Data["from"] = plan.From.String()
	hctx.Data["to"] = plan.To.String()
	hctx.Data["risk"] = plan.RiskLevel.String()
	executor.Run(ctx, point, hctx)
}

func (e *Engine) fireMigrationStep(ctx context.Context, correlationID string, step Step, done, total, overall int) {
	executor := e.manager.Hooks()
	if executor == nil {
		return
	}
	hctx := hooks.NewContext(hooks.MigrationStep, hooks.ComponentID{Type: "schema", Name: "migration_engine"}, correlationID)
	hctx.Data["from"] = step.From.String()
	hctx.Data["to"] = step.To.String()
	hctx.Data["progress"] = done
	hctx.Data["batch_total"] = total
	hctx.Data["overall_total"] = overall
	executor.Run(ctx, hooks.MigrationStep, hctx)
}

func (e *Engine) emit(eventType, correlationID string, data map[string]any) {
	bus := e.manager.Bus()
	if bus == nil {
		return
	}
	bus.Publish(events.New(eventType, "migration_engine", correlationID, data))
}
