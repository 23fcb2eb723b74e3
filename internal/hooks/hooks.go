// Package hooks implements the lifecycle hook pipeline: registration,
// ordering, and execution of hooks around every state mutation and agent
// lifecycle transition. See SPEC_FULL.md 4.C.
package hooks

import (
	"context"
	"fmt"
	"time"
)

// Point identifies a hook point in the mutation or lifecycle pipeline.
type Point string

const (
	BeforeStateWrite Point = "before_state_write"
	AfterStateWrite  Point = "after_state_write"
	BeforeStateRead  Point = "before_state_read"
	AfterStateRead   Point = "after_state_read"

	InitializationStarted   Point = "initialization_started"
	InitializationCompleted Point = "initialization_completed"
	ExecutionStarted        Point = "execution_started"
	ExecutionCompleted      Point = "execution_completed"
	Paused                  Point = "paused"
	Resumed                 Point = "resumed"
	TerminationStarted      Point = "termination_started"
	TerminationCompleted    Point = "termination_completed"
	ErrorOccurred           Point = "error_occurred"
	RecoveryStarted         Point = "recovery_started"
	RecoveryCompleted       Point = "recovery_completed"
	HealthCheck             Point = "health_check"
	ResourceAllocated       Point = "resource_allocated"
	ResourceDeallocated     Point = "resource_deallocated"

	PreMigration  Point = "pre_migration"
	PostMigration Point = "post_migration"
	MigrationStep Point = "migration_step"
)

// CustomStateChange builds a StateChange(custom) point for a named event.
func CustomStateChange(name string) Point {
	return Point("state_change:" + name)
}

// ComponentID identifies the component a hook context is operating on.
type ComponentID struct {
	Type string
	Name string
}

// Context is the mutable (pre-phase) / snapshot (post-phase) context a hook
// operates over (§4.C).
type Context struct {
	Point         Point
	Component     ComponentID
	CorrelationID string
	Data          map[string]any
	Metadata      map[string]string
	LanguageTag   string
	Timestamp     time.Time
}

func NewContext(point Point, component ComponentID, correlationID string) *Context {
	return &Context{
		Point:         point,
		Component:     component,
		CorrelationID: correlationID,
		Data:          make(map[string]any),
		Metadata:      make(map[string]string),
		Timestamp:     time.Now().UTC(),
	}
}

// Clone returns a snapshot copy of the context suitable for the post-hook
// phase, where the pre-phase's mutable data must no longer change.
func (c *Context) Clone() *Context {
	data := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		data[k] = v
	}
	meta := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	return &Context{
		Point: c.Point, Component: c.Component, CorrelationID: c.CorrelationID,
		Data: data, Metadata: meta, LanguageTag: c.LanguageTag, Timestamp: c.Timestamp,
	}
}

// ResultKind discriminates the tagged HookResult variant (§4.C).
type ResultKind int

const (
	KindContinue ResultKind = iota
	KindModified
	KindCancel
	KindRedirect
	KindReplace
	KindRetry
	KindFork
	KindCache
	KindSkipped
	KindTimeout
)

func (k ResultKind) String() string {
	switch k {
	case KindContinue:
		return "Continue"
	case KindModified:
		return "Modified"
	case KindCancel:
		return "Cancel"
	case KindRedirect:
		return "Redirect"
	case KindReplace:
		return "Replace"
	case KindRetry:
		return "Retry"
	case KindFork:
		return "Fork"
	case KindCache:
		return "Cache"
	case KindSkipped:
		return "Skipped"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Result is the tagged variant a hook's Execute returns. Only the fields
// relevant to Kind are populated; callers must switch on Kind.
type Result struct {
	Kind ResultKind

	NewData map[string]any // Modified
	Reason  string          // Cancel, Skipped
	Target  string          // Redirect
	Value   any             // Replace
	AfterMS int             // Retry
	MaxTry  int             // Retry
	ForkCtx *Context        // Fork
	TTL     time.Duration   // Cache
}

func Continue() Result               { return Result{Kind: KindContinue} }
func Modified(data map[string]any) Result { return Result{Kind: KindModified, NewData: data} }
func Cancel(reason string) Result     { return Result{Kind: KindCancel, Reason: reason} }
func Redirect(target string) Result   { return Result{Kind: KindRedirect, Target: target} }
func Replace(value any) Result        { return Result{Kind: KindReplace, Value: value} }
func Retry(afterMS, max int) Result   { return Result{Kind: KindRetry, AfterMS: afterMS, MaxTry: max} }
func Skipped(reason string) Result    { return Result{Kind: KindSkipped, Reason: reason} }

// Metadata describes a registered hook: its identity, ordering priority
// (lower runs earlier), and free-form tags.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Priority    int
	Tags        []string
}

// Hook is the capability every registered hook must satisfy.
type Hook interface {
	Metadata() Metadata
	ShouldExecute(ctx *Context) bool
	Execute(ctx context.Context, hctx *Context) (Result, error)
}

// ReplayableHook is the optional capability bit for hooks that can
// serialize their context and be re-driven later (§4.C, §4.E.7).
type ReplayableHook interface {
	Hook
	SerializeContext(hctx *Context) ([]byte, error)
	DeserializeContext(data []byte) (*Context, error)
	ReplayID() string
}

// ErrTimeout is recorded when a hook body exceeds its per-hook timeout.
type ErrTimeout struct {
	HookID string
}

func (e *ErrTimeout) Error() string { return fmt.Sprintf("hooks: hook %q timed out", e.HookID) }

// ErrRetryExhausted is the error value for a pre-phase Retry chain that has
// used up its max attempts. Executor.Run does not retry and the State
// Manager does not re-run a write on a Retry outcome, so neither returns it.
var ErrRetryExhausted = fmt.Errorf("hooks: retry attempts exhausted")
