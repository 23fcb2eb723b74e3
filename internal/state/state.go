// Package state implements the State Manager: the mutation entry point
// that composes scope validation, the backend adapter, the hook pipeline,
// and the event bus into a single coherent pipeline (SPEC_FULL.md 4.E).
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexlapax/statecore/internal/backend"
	"github.com/lexlapax/statecore/internal/events"
	"github.com/lexlapax/statecore/internal/hooks"
	"github.com/lexlapax/statecore/internal/logging"
	"github.com/lexlapax/statecore/internal/scope"
)

// Class is the advisory hint on each write (§3 Data Model).
type Class int

const (
	Standard Class = iota
	Trusted
	Ephemeral
)

// SchemaVersionProvider decouples the State Manager from the Schema
// Registry's concrete type. Neither package imports the other: the schema
// package reaches the manager through its own ManagerFacet interface.
type SchemaVersionProvider interface {
	CurrentVersion() uint32
}

type staticVersion struct{ v uint32 }

func (s staticVersion) CurrentVersion() uint32 { return s.v }

// StaticSchemaVersion is a SchemaVersionProvider for callers that don't
// wire a full schema registry (e.g. tests, or a core run with no declared
// schemas — version defaults to 1).
func StaticSchemaVersion(v uint32) SchemaVersionProvider { return staticVersion{v} }

// cacheEntry is the in-memory cache value shape mirroring the backend
// envelope.
type cacheEntry struct {
	value     any
	timestamp time.Time
	schemaVer uint32
}

// Manager is the central entry point for every state operation (§4.E).
type Manager struct {
	adapter *backend.StorageAdapter
	hooks   *hooks.Executor
	bus     *events.Bus
	schema  SchemaVersionProvider
	authz   Authorizer
	res     ResourceAccountant

	persistenceEnabled bool
	maxCacheEntries     int

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
	cacheLRU []string // approximate recency order for eviction

	shardCount int
	shards     []sync.Mutex

	historyMu      sync.Mutex
	history        []hookHistoryRecord
	maxHistorySize int
}

// Authorizer is the optional external collaborator consumed for operations
// touching reserved scopes (Tenant, User) per §6.
type Authorizer interface {
	Allow(ctx context.Context, s scope.Scope, op string) bool
}

// ResourceAccountant is the optional external collaborator consumed at
// ResourceAllocated/ResourceDeallocated hook points per §6. A nil
// ResourceAccountant is not an error — absence just skips accounting.
type ResourceAccountant interface {
	Allocate(ctx context.Context, agentID, kind string, n int) (string, error)
	Deallocate(ctx context.Context, id string) error
}

// Config bundles the constructor options for a Manager.
type Config struct {
	PersistenceEnabled bool
	ShardCount         int // default 64
	MaxCacheEntries    int // default 100000
	MaxHistorySize     int // default 1000
	Authz              Authorizer
	Resources          ResourceAccountant
}

func NewManager(b backend.Backend, h *hooks.Executor, bus *events.Bus, schema SchemaVersionProvider, cfg Config) *Manager {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 64
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = 100000
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 1000
	}
	return &Manager{
		adapter:            backend.NewStorageAdapter(b, "state"),
		hooks:              h,
		bus:                bus,
		schema:             schema,
		authz:              cfg.Authz,
		res:                cfg.Resources,
		persistenceEnabled: cfg.PersistenceEnabled,
		maxCacheEntries:    cfg.MaxCacheEntries,
		cache:              make(map[string]cacheEntry),
		shardCount:         cfg.ShardCount,
		shards:             make([]sync.Mutex, cfg.ShardCount),
		maxHistorySize:     cfg.MaxHistorySize,
	}
}

func (m *Manager) shardFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[int(h.Sum32())%m.shardCount]
}

// Error kinds per §7.
type ErrCancelled struct{ Reason string }

func (e *ErrCancelled) Error() string { return fmt.Sprintf("state: cancelled: %s", e.Reason) }

type ErrBackendError struct{ Detail string }

func (e *ErrBackendError) Error() string { return fmt.Sprintf("state: backend error: %s", e.Detail) }

type ErrSchemaMismatch struct{ Detail string }

func (e *ErrSchemaMismatch) Error() string { return fmt.Sprintf("state: schema mismatch: %s", e.Detail) }

type ErrInterruptedMidApply struct{ Key string }

func (e *ErrInterruptedMidApply) Error() string {
	return fmt.Sprintf("state: interrupted mid-apply for key %q; re-read to discover outcome", e.Key)
}

type ErrUnauthorized struct {
	Scope string
	Op    string
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("state: unauthorized: op %q on scope %q", e.Op, e.Scope)
}

type ErrSchemaUnknown struct{ Version uint32 }

func (e *ErrSchemaUnknown) Error() string {
	return fmt.Sprintf("state: schema version %d unknown at read time", e.Version)
}

func newCorrelationID() string { return uuid.NewString() }

func (m *Manager) schemaVersion() uint32 {
	if m.schema == nil {
		return 1
	}
	return m.schema.CurrentVersion()
}

func scopedKeyFor(s scope.Scope, key string) (string, error) {
	sk, err := scope.ScopedKey(s, key)
	if err != nil {
		return "", err
	}
	return sk, nil
}

// checkAuthz consults the optional Authorizer for reserved scopes (Tenant,
// User) per §6. Absence of an Authorizer is not an error — only a
// configured Authorizer returning false blocks the operation.
func (m *Manager) checkAuthz(ctx context.Context, s scope.Scope, op string) error {
	if m.authz == nil {
		return nil
	}
	if s.Kind != scope.Tenant && s.Kind != scope.User {
		return nil
	}
	if !m.authz.Allow(ctx, s, op) {
		return &ErrUnauthorized{Scope: s.Kind.String() + ":" + s.ID, Op: op}
	}
	return nil
}

// --- cache -------------------------------------------------------------

func (m *Manager) cachePeek(scopedKey string) (cacheEntry, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	e, ok := m.cache[scopedKey]
	return e, ok
}

func (m *Manager) cachePut(scopedKey string, e cacheEntry) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if _, exists := m.cache[scopedKey]; !exists && len(m.cache) >= m.maxCacheEntries {
		m.evictOldestLocked()
	}
	m.cache[scopedKey] = e
	m.cacheLRU = append(m.cacheLRU, scopedKey)
}

// evictOldestLocked drops the oldest cache entries until under the cap.
// Called with cacheMu held. The recency list is approximate (append-only,
// compacted lazily) which is sufficient for a soft resource cap (§5).
func (m *Manager) evictOldestLocked() {
	for len(m.cacheLRU) > 0 && len(m.cache) >= m.maxCacheEntries {
		oldest := m.cacheLRU[0]
		m.cacheLRU = m.cacheLRU[1:]
		delete(m.cache, oldest)
	}
}

func (m *Manager) cacheEvict(scopedKey string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	delete(m.cache, scopedKey)
}

// --- hook history --------------------------------------------------------

// hookHistoryRecord mirrors a Hook Record (§3 Data Model): persisted under
// `hook_history:<correlation_id>:<execution_id>` and bounded by
// max_history_size with oldest-first eviction (I5).
type hookHistoryRecord struct {
	HookID        string
	ExecutionID   string
	CorrelationID string
	SerializedCtx []byte
	ResultKind    string
	Timestamp     time.Time
	Duration      time.Duration
	Metadata      map[string]string
}

func (m *Manager) recordHistory(rec hookHistoryRecord) {
	m.historyMu.Lock()
	m.history = append(m.history, rec)
	var evicted []hookHistoryRecord
	if len(m.history) > m.maxHistorySize {
		cut := len(m.history) - m.maxHistorySize
		evicted = append(evicted, m.history[:cut]...)
		m.history = m.history[cut:]
	}
	m.historyMu.Unlock()

	if !m.persistenceEnabled {
		return
	}
	ctx := context.Background()
	for _, old := range evicted {
		oldKey := fmt.Sprintf("hook_history:%s:%s", old.CorrelationID, old.ExecutionID)
		if err := m.adapter.Delete(ctx, oldKey); err != nil {
			logging.StateWarn("failed to evict hook history record %s: %v", oldKey, err)
		}
	}
	key := fmt.Sprintf("hook_history:%s:%s", rec.CorrelationID, rec.ExecutionID)
	if err := m.adapter.Store(ctx, key, rec, m.schemaVersion()); err != nil {
		logging.StateWarn("failed to persist hook history record %s: %v", key, err)
	}
}

// --- mutation pipeline ---------------------------------------------------

// runPreHooks executes the configured pre-phase hook point and returns the
// aggregated outcome plus the final hook context (possibly mutated by a
// Modified result).
func (m *Manager) runPreHooks(ctx context.Context, point hooks.Point, hctx *hooks.Context) hooks.Outcome {
	if m.hooks == nil {
		return hooks.Outcome{Kind: hooks.KindContinue}
	}
	return m.hooks.Run(ctx, point, hctx)
}

func (m *Manager) runPostHooks(ctx context.Context, point hooks.Point, hctx *hooks.Context) {
	if m.hooks == nil {
		return
	}
	outcome := m.hooks.Run(ctx, point, hctx)
	// Post-hook results may only be Continue/Modified/Skipped; anything
	// else is logged and treated as Continue (§4.E.1).
	switch outcome.Kind {
	case hooks.KindContinue, hooks.KindModified, hooks.KindSkipped:
	default:
		logging.StateWarn("post-hook at %s returned unsupported kind %s; treated as Continue", point, outcome.Kind)
	}
}

func (m *Manager) emit(eventType, scopedKey, correlationID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	e := events.New(eventType, "state_manager", correlationID, data)
	m.bus.Publish(e)
}

// Set implements §4.E.1: validate, pre-hook, durable write (unless
// Ephemeral), cache update, post-hook, emit.
func (m *Manager) Set(ctx context.Context, s scope.Scope, key string, value any, class Class) error {
	scopedKey, err := scopedKeyFor(s, key)
	if err != nil {
		return err
	}
	if err := m.checkAuthz(ctx, s, "set"); err != nil {
		return err
	}

	lock := m.shardFor(scopedKey)
	lock.Lock()
	defer lock.Unlock()

	oldEntry, hadOld := m.cachePeek(scopedKey)
	var oldValue any
	if hadOld {
		oldValue = oldEntry.value
	}

	correlationID := newCorrelationID()
	hctx := hooks.NewContext(hooks.BeforeStateWrite, hooks.ComponentID{Type: "state", Name: "state_manager"}, correlationID)
	hctx.Data["scope"] = s.Kind.String() + ":" + s.ID
	hctx.Data["key"] = key
	hctx.Data["old"] = oldValue
	hctx.Data["new"] = value
	hctx.Data["class"] = int(class)

	outcome := m.runPreHooks(ctx, hooks.BeforeStateWrite, hctx)
	switch outcome.Kind {
	case hooks.KindCancel:
		m.emit(events.TypeStateCancelled, scopedKey, correlationID, map[string]any{
			"scope": hctx.Data["scope"], "key": key, "reason": outcome.Reason,
		})
		return nil // I3: cancelled, no write, no state.changed — caller sees Ok(cancelled)
	case hooks.KindModified:
		if v, ok := outcome.NewData["new"]; ok {
			value = v
		} else if v, ok := outcome.NewData["value"]; ok {
			value = v
		}
	}

	finalValue := value
	if class != Ephemeral {
		if m.persistenceEnabled {
			if err := m.adapter.Store(ctx, scopedKey, finalValue, m.schemaVersion()); err != nil {
				return &ErrBackendError{Detail: err.Error()}
			}
		}
	}

	m.cachePut(scopedKey, cacheEntry{value: finalValue, timestamp: time.Now().UTC(), schemaVer: m.schemaVersion()})

	postCtx := hctx.Clone()
	postCtx.Point = hooks.AfterStateWrite
	postCtx.Data["new"] = finalValue
	m.runPostHooks(ctx, hooks.AfterStateWrite, postCtx)

	m.emit(events.TypeStateChanged, scopedKey, correlationID, map[string]any{
		"scope": hctx.Data["scope"], "key": key, "old": oldValue, "new": finalValue,
	})
	return nil
}

// Get implements §4.E.2: cache peek, backend load on miss, optional
// state.read emission gated on an active subscription (§9 Open Questions —
// resolved in DESIGN.md: emit only when a live subscription matches, to
// avoid event storms on hot read paths).
func (m *Manager) Get(ctx context.Context, s scope.Scope, key string) (any, bool, error) {
	scopedKey, err := scopedKeyFor(s, key)
	if err != nil {
		return nil, false, err
	}
	if err := m.checkAuthz(ctx, s, "get"); err != nil {
		return nil, false, err
	}

	if e, ok := m.cachePeek(scopedKey); ok {
		m.maybeEmitRead(s, key, e.value)
		return e.value, true, nil
	}

	if !m.persistenceEnabled {
		return nil, false, nil
	}

	env, ok, err := m.adapter.Load(ctx, scopedKey)
	if err != nil {
		return nil, false, &ErrBackendError{Detail: err.Error()}
	}
	if !ok {
		return nil, false, nil
	}

	var v any
	if err := unmarshalRaw(env.V, &v); err != nil {
		return nil, false, &ErrBackendError{Detail: err.Error()}
	}

	m.cachePut(scopedKey, cacheEntry{value: v, timestamp: env.TS, schemaVer: env.SV})
	m.maybeEmitRead(s, key, v)
	return v, true, nil
}

func (m *Manager) maybeEmitRead(s scope.Scope, key string, value any) {
	if m.bus == nil || !m.bus.HasSubscriptionFor(events.TypeStateRead) {
		return
	}
	m.emit(events.TypeStateRead, key, "", map[string]any{
		"scope": s.Kind.String() + ":" + s.ID, "key": key, "value": value,
	})
}

// Delete implements §4.E.3: pre-hooks with new=nil, idempotent backend
// delete, cache evict, post-hooks, emit state.deleted. Returns whether the
// key existed prior to deletion.
func (m *Manager) Delete(ctx context.Context, s scope.Scope, key string) (bool, error) {
	scopedKey, err := scopedKeyFor(s, key)
	if err != nil {
		return false, err
	}
	if err := m.checkAuthz(ctx, s, "delete"); err != nil {
		return false, err
	}

	lock := m.shardFor(scopedKey)
	lock.Lock()
	defer lock.Unlock()

	entry, existed := m.cachePeek(scopedKey)
	if !existed && m.persistenceEnabled {
		existed, err = m.adapter.Exists(ctx, scopedKey)
		if err != nil {
			return false, &ErrBackendError{Detail: err.Error()}
		}
	}

	correlationID := newCorrelationID()
	hctx := hooks.NewContext(hooks.BeforeStateWrite, hooks.ComponentID{Type: "state", Name: "state_manager"}, correlationID)
	hctx.Data["scope"] = s.Kind.String() + ":" + s.ID
	hctx.Data["key"] = key
	hctx.Data["old"] = entry.value
	hctx.Data["new"] = nil

	outcome := m.runPreHooks(ctx, hooks.BeforeStateWrite, hctx)
	if outcome.Kind == hooks.KindCancel {
		m.emit(events.TypeStateCancelled, scopedKey, correlationID, map[string]any{
			"scope": hctx.Data["scope"], "key": key, "reason": outcome.Reason,
		})
		return existed, nil
	}

	if m.persistenceEnabled {
		if err := m.adapter.Delete(ctx, scopedKey); err != nil {
			return false, &ErrBackendError{Detail: err.Error()}
		}
	}
	m.cacheEvict(scopedKey)

	postCtx := hctx.Clone()
	postCtx.Point = hooks.AfterStateWrite
	m.runPostHooks(ctx, hooks.AfterStateWrite, postCtx)

	m.emit(events.TypeStateDeleted, scopedKey, correlationID, map[string]any{
		"scope": hctx.Data["scope"], "key": key,
	})
	return existed, nil
}

// ListKeys implements §4.E.4: delegate to the backend with the scope's
// canonical prefix, stripping the prefix before returning.
func (m *Manager) ListKeys(ctx context.Context, s scope.Scope) ([]string, error) {
	prefix, err := scope.CanonicalPrefix(s)
	if err != nil {
		return nil, err
	}
	if err := m.checkAuthz(ctx, s, "list_keys"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string

	if m.persistenceEnabled {
		keys, err := m.adapter.ListKeys(ctx, prefix)
		if err != nil {
			return nil, &ErrBackendError{Detail: err.Error()}
		}
		for _, k := range keys {
			if uk, ok := scope.ExtractUserKey(k, s); ok {
				if !seen[uk] {
					seen[uk] = true
					out = append(out, uk)
				}
			}
		}
	}

	m.cacheMu.RLock()
	for scopedKey := range m.cache {
		if uk, ok := scope.ExtractUserKey(scopedKey, s); ok {
			if !seen[uk] {
				seen[uk] = true
				out = append(out, uk)
			}
		}
	}
	m.cacheMu.RUnlock()

	return out, nil
}

// ClearResult reports a partial clear_scope outcome per §7: a structured
// report rather than a single error.
type ClearResult struct {
	Completed []string
	Remaining []string
	LastError error
}

func (r ClearResult) Err() error {
	if len(r.Remaining) == 0 {
		return nil
	}
	return fmt.Errorf("state: clear_scope incomplete: %d completed, %d remaining: %w", len(r.Completed), len(r.Remaining), r.LastError)
}

// ClearScope implements §4.E.5: list then delete each key. Not
// transactional — a clear_scope interleaved with a concurrent write to the
// same scope may leave one of the new writes intact (documented, not a
// bug, §4.E Concurrency guarantees).
func (m *Manager) ClearScope(ctx context.Context, s scope.Scope) ClearResult {
	keys, err := m.ListKeys(ctx, s)
	if err != nil {
		return ClearResult{Remaining: nil, LastError: err}
	}
	var result ClearResult
	for _, k := range keys {
		if _, err := m.Delete(ctx, s, k); err != nil {
			result.Remaining = append(result.Remaining, k)
			result.LastError = err
			continue
		}
		result.Completed = append(result.Completed, k)
	}
	return result
}

// Save flushes the underlying backend if flushable (used by clear_scope
// callers and the health-check hook exerciser; §4.B `save()`).
func (m *Manager) Save(ctx context.Context) error {
	return m.adapter.Save(ctx)
}

// Hooks exposes the underlying Executor for external registration.
func (m *Manager) Hooks() *hooks.Executor { return m.hooks }

// Bus exposes the underlying event bus for external subscription.
func (m *Manager) Bus() *events.Bus { return m.bus }

// --- migration engine support -------------------------------------------
//
// The schema package's migration Engine drives its own load/transform/store
// loop directly against the backend (bypassing per-key hooks, which fire at
// PreMigration/PostMigration/MigrationStep instead; §4.F). These accessors
// give it the minimum surface it needs without a schema->state import
// cycle running the other way.

// AllScopedKeys returns every stored key across all scopes (the on-disk
// scoped-key form, not the user_key), for the migration engine to iterate
// when rewriting a schema version's worth of data.
func (m *Manager) AllScopedKeys(ctx context.Context) ([]string, error) {
	return m.adapter.ListKeys(ctx, "")
}

// RawLoad loads the raw envelope at a fully-scoped key, for migration use.
func (m *Manager) RawLoad(ctx context.Context, scopedKey string) (backend.Envelope, bool, error) {
	return m.adapter.Load(ctx, scopedKey)
}

// RawStore stores a raw value at a fully-scoped key under the given schema
// version, for migration use, and invalidates the corresponding cache
// entry so subsequent reads observe the migrated value.
func (m *Manager) RawStore(ctx context.Context, scopedKey string, value any, schemaVersion uint32) error {
	if err := m.adapter.Store(ctx, scopedKey, value, schemaVersion); err != nil {
		return &ErrBackendError{Detail: err.Error()}
	}
	m.cacheEvict(scopedKey)
	return nil
}

// RawDelete removes a fully-scoped key, for migration rollback use.
func (m *Manager) RawDelete(ctx context.Context, scopedKey string) error {
	if err := m.adapter.Delete(ctx, scopedKey); err != nil {
		return &ErrBackendError{Detail: err.Error()}
	}
	m.cacheEvict(scopedKey)
	return nil
}

func unmarshalRaw(raw []byte, out *any) error {
	return json.Unmarshal(raw, out)
}
