package hooks

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fnHook struct {
	meta Metadata
	fn   func(ctx context.Context, hctx *Context) (Result, error)
}

func (f *fnHook) Metadata() Metadata                    { return f.meta }
func (f *fnHook) ShouldExecute(hctx *Context) bool       { return true }
func (f *fnHook) Execute(ctx context.Context, hctx *Context) (Result, error) {
	return f.fn(ctx, hctx)
}

func TestExecutor_OrderingByPriorityThenRegistration(t *testing.T) {
	e := NewExecutor(time.Second, false)
	var order []string

	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "b", Priority: 10},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			order = append(order, "b")
			return Continue(), nil
		},
	})
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "a", Priority: 5},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			order = append(order, "a")
			return Continue(), nil
		},
	})
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "c", Priority: 5},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			order = append(order, "c")
			return Continue(), nil
		},
	})

	hctx := NewContext(BeforeStateWrite, ComponentID{Type: "state", Name: "k"}, "corr-1")
	e.Run(context.Background(), BeforeStateWrite, hctx)

	want := []string{"a", "c", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestExecutor_CancelShortCircuits(t *testing.T) {
	e := NewExecutor(time.Second, false)
	ran := false
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "veto", Priority: 1},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			return Cancel("veto"), nil
		},
	})
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "never", Priority: 2},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			ran = true
			return Continue(), nil
		},
	})

	hctx := NewContext(BeforeStateWrite, ComponentID{Type: "state", Name: "k"}, "corr-2")
	outcome := e.Run(context.Background(), BeforeStateWrite, hctx)

	if outcome.Kind != KindCancel {
		t.Fatalf("outcome.Kind = %v, want Cancel", outcome.Kind)
	}
	if outcome.Reason != "veto" {
		t.Errorf("outcome.Reason = %q, want veto", outcome.Reason)
	}
	if ran {
		t.Errorf("expected lower-priority hook to never run after Cancel")
	}
}

func TestExecutor_LastModifiedWins(t *testing.T) {
	e := NewExecutor(time.Second, false)
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "m1", Priority: 1},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			return Modified(map[string]any{"value": "first"}), nil
		},
	})
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "m2", Priority: 2},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			return Modified(map[string]any{"value": "second"}), nil
		},
	})

	hctx := NewContext(BeforeStateWrite, ComponentID{Type: "state", Name: "k"}, "corr-3")
	outcome := e.Run(context.Background(), BeforeStateWrite, hctx)

	if outcome.Kind != KindModified {
		t.Fatalf("outcome.Kind = %v, want Modified", outcome.Kind)
	}
	if outcome.NewData["value"] != "second" {
		t.Errorf("NewData = %v, want second", outcome.NewData)
	}
}

func TestExecutor_TimeoutRecordedAndContinues(t *testing.T) {
	e := NewExecutor(10*time.Millisecond, false)
	ranNext := false
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "slow", Priority: 1},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			<-ctx.Done()
			return Continue(), ctx.Err()
		},
	})
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "fast", Priority: 2},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			ranNext = true
			return Continue(), nil
		},
	})

	hctx := NewContext(BeforeStateWrite, ComponentID{Type: "state", Name: "k"}, "corr-4")
	e.Run(context.Background(), BeforeStateWrite, hctx)

	if !ranNext {
		t.Errorf("expected execution to continue with remaining hooks after a timeout")
	}
	stats := e.HookStats("slow")
	if stats.Timeouts != 1 {
		t.Errorf("expected 1 recorded timeout, got %d", stats.Timeouts)
	}
}

func TestExecutor_HookErrorBecomesCancel(t *testing.T) {
	e := NewExecutor(time.Second, false)
	e.Register(BeforeStateWrite, &fnHook{
		meta: Metadata{ID: "err", Priority: 1},
		fn: func(ctx context.Context, hctx *Context) (Result, error) {
			return Result{}, fmt.Errorf("boom")
		},
	})
	hctx := NewContext(BeforeStateWrite, ComponentID{Type: "state", Name: "k"}, "corr-5")
	outcome := e.Run(context.Background(), BeforeStateWrite, hctx)
	if outcome.Kind != KindCancel {
		t.Fatalf("outcome.Kind = %v, want Cancel", outcome.Kind)
	}
}
