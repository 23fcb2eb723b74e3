package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lexlapax/statecore/internal/logging"
)

// registration pairs a Hook with the sequence number it was registered in,
// used as the stable tie-break within a priority bucket.
type registration struct {
	hook Hook
	seq  int
}

// Stats is a per-hook invocation snapshot (supplemented feature: execution
// statistics mirrored from the original hook/lifecycle modules).
type Stats struct {
	Invocations int
	Timeouts    int
	Failures    int
	TotalTime   time.Duration
}

// Executor holds ordered collections of hooks per Point and executes the
// correct subset with well-defined aggregation (§4.C).
type Executor struct {
	mu             sync.RWMutex
	byPoint        map[Point][]registration
	nextSeq        int
	defaultTimeout time.Duration
	failFast       bool

	statsMu sync.Mutex
	stats   map[string]*Stats
}

func NewExecutor(defaultTimeout time.Duration, failFast bool) *Executor {
	return &Executor{
		byPoint:        make(map[Point][]registration),
		defaultTimeout: defaultTimeout,
		failFast:       failFast,
		stats:          make(map[string]*Stats),
	}
}

// Register adds a hook at its declared point(s) is determined by the
// caller; Register binds the hook to a single point. Call once per point a
// hook should fire at.
func (e *Executor) Register(point Point, h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSeq++
	e.byPoint[point] = append(e.byPoint[point], registration{hook: h, seq: e.nextSeq})
	e.sortLocked(point)
	logging.HooksDebug("registered hook %q at point %s", h.Metadata().ID, point)
}

// Unregister removes a hook (by ID) from a point.
func (e *Executor) Unregister(point Point, hookID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.byPoint[point]
	out := regs[:0]
	for _, r := range regs {
		if r.hook.Metadata().ID != hookID {
			out = append(out, r)
		}
	}
	e.byPoint[point] = out
}

func (e *Executor) sortLocked(point Point) {
	regs := e.byPoint[point]
	sort.SliceStable(regs, func(i, j int) bool {
		pi, pj := regs[i].hook.Metadata().Priority, regs[j].hook.Metadata().Priority
		if pi != pj {
			return pi < pj
		}
		return regs[i].seq < regs[j].seq
	})
}

// snapshot returns the current ordered hook list for a point under a read
// lock, then releases the lock before the caller runs hook bodies — hooks
// never hold an owning handle back into the Executor (§9 Design Notes).
func (e *Executor) snapshot(point Point) []Hook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	regs := e.byPoint[point]
	out := make([]Hook, len(regs))
	for i, r := range regs {
		out[i] = r.hook
	}
	return out
}

// Outcome is the aggregated result of executing all hooks at a point.
type Outcome struct {
	Kind        ResultKind // Cancel on a Cancel result, a hook error, or a timeout under failFast; otherwise the last non-neutral result's kind (Modified, Redirect, Replace, Retry, Fork, Cache); else Continue
	Reason      string
	NewData     map[string]any
	Invocations []Invocation
}

// Invocation records one hook's execution for hook-history purposes.
type Invocation struct {
	HookID   string
	Kind     ResultKind
	Duration time.Duration
	Err      error
}

// Run executes the hooks registered at point in priority order, aggregating
// their results per the rule in §4.C.3: first Cancel short-circuits; the
// last Modified(v) becomes the effective new value; Continue/Skipped are
// neutral.
func (e *Executor) Run(ctx context.Context, point Point, hctx *Context) Outcome {
	hookList := e.snapshot(point)
	outcome := Outcome{Kind: KindContinue}

	for _, h := range hookList {
		meta := h.Metadata()
		if !h.ShouldExecute(hctx) {
			continue
		}

		timeout := e.defaultTimeout
		hookCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := h.Execute(hookCtx, hctx)
		elapsed := time.Since(start)
		cancel()

		inv := Invocation{HookID: meta.ID, Duration: elapsed}

		if hookCtx.Err() == context.DeadlineExceeded {
			inv.Kind = KindTimeout
			inv.Err = &ErrTimeout{HookID: meta.ID}
			e.recordStats(meta.ID, elapsed, true, false)
			logging.HooksWarn("hook %q timed out at point %s", meta.ID, point)
			outcome.Invocations = append(outcome.Invocations, inv)
			if e.failFast {
				outcome.Kind = KindCancel
				outcome.Reason = "hook timeout: " + meta.ID
				return outcome
			}
			continue
		}
		e.recordStats(meta.ID, elapsed, false, err != nil)

		if err != nil {
			// A hook body returning Err is converted to Cancel at pre-phase
			// (§4.C Failure semantics); post-phase handling is the caller's
			// responsibility since pre/post differ only in what they do
			// with KindCancel.
			inv.Kind = KindCancel
			inv.Err = err
			outcome.Invocations = append(outcome.Invocations, inv)
			outcome.Kind = KindCancel
			outcome.Reason = err.Error()
			return outcome
		}

		inv.Kind = result.Kind
		outcome.Invocations = append(outcome.Invocations, inv)

		switch result.Kind {
		case KindCancel:
			outcome.Kind = KindCancel
			outcome.Reason = result.Reason
			return outcome
		case KindModified:
			outcome.Kind = KindModified
			outcome.NewData = result.NewData
			hctx.Data = result.NewData
		case KindContinue, KindSkipped:
			// neutral
		default:
			// Redirect/Replace/Retry/Fork/Cache are surfaced to the caller
			// (State Manager) via the last non-neutral outcome seen; the
			// pipeline itself does not interpret them further.
			outcome.Kind = result.Kind
			outcome.NewData = result.NewData
		}
	}
	return outcome
}

func (e *Executor) recordStats(hookID string, elapsed time.Duration, timeout, failure bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[hookID]
	if !ok {
		s = &Stats{}
		e.stats[hookID] = s
	}
	s.Invocations++
	s.TotalTime += elapsed
	if timeout {
		s.Timeouts++
	}
	if failure {
		s.Failures++
	}
}

// HookStats returns a snapshot of a hook's invocation statistics.
func (e *Executor) HookStats(hookID string) Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	if s, ok := e.stats[hookID]; ok {
		return *s
	}
	return Stats{}
}
