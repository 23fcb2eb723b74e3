package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexlapax/statecore/internal/hooks"
	"github.com/lexlapax/statecore/internal/logging"
)

// ReplayRecord is the outcome of replaying a single hook-history record
// (§4.E.7): the original recorded result, the result observed on replay,
// and whether they diverged. Divergence is reported, not fatal.
type ReplayRecord struct {
	ExecutionID    string
	HookID         string
	OriginalResult string
	ReplayedResult string
	Diverged       bool
	Err            error
}

// ReplayHooks implements §4.E.7: given a correlation id, iterates
// `hook_history:<id>:*`, deserializes each record, and drives the matching
// ReplayableHook by calling DeserializeContext then Execute. A hook whose
// id doesn't match any record for this correlation id is simply never
// invoked; divergence from the recorded result is reported but does not
// fail the replay.
func (m *Manager) ReplayHooks(ctx context.Context, correlationID string, byHookID map[string]hooks.ReplayableHook) ([]ReplayRecord, error) {
	if !m.persistenceEnabled {
		return nil, fmt.Errorf("state: hook replay requires persistence.enabled")
	}

	prefix := "hook_history:" + correlationID + ":"
	keys, err := m.adapter.ListKeys(ctx, prefix)
	if err != nil {
		return nil, &ErrBackendError{Detail: err.Error()}
	}

	var out []ReplayRecord
	for _, key := range keys {
		env, ok, err := m.adapter.Load(ctx, key)
		if err != nil || !ok {
			continue
		}
		var rec hookHistoryRecord
		if err := json.Unmarshal(env.V, &rec); err != nil {
			logging.StateWarn("hook replay: skipping unreadable record %s: %v", key, err)
			continue
		}

		replayable, ok := byHookID[rec.HookID]
		if !ok {
			continue
		}

		hctx, err := replayable.DeserializeContext(rec.SerializedCtx)
		if err != nil {
			out = append(out, ReplayRecord{ExecutionID: rec.ExecutionID, HookID: rec.HookID, Err: err})
			continue
		}

		result, err := replayable.Execute(ctx, hctx)
		rr := ReplayRecord{
			ExecutionID:    rec.ExecutionID,
			HookID:         rec.HookID,
			OriginalResult: rec.ResultKind,
		}
		if err != nil {
			rr.Err = err
		} else {
			rr.ReplayedResult = result.Kind.String()
			rr.Diverged = !strings.EqualFold(rr.ReplayedResult, rec.ResultKind)
		}
		out = append(out, rr)
	}
	return out, nil
}
