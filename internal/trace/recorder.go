// Package trace maintains the per-session action trace: committed actions
// only, deduplicated, bounded, newest-first. The trace is what continuity
// features (return-to, "that one again", bridges) resolve against, so it must
// never contain speculative or failed work.
package trace

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// Config bounds the recorder.
type Config struct {
	MaxEntries     int
	DedupeWindowMS int
}

// Recorder appends committed actions to the session trace and mirrors them
// to a sink. Not safe for concurrent use on one session; the session slot
// serializes turns.
type Recorder struct {
	cfg  Config
	sink types.TraceSink
	now  func() time.Time
}

func NewRecorder(cfg Config, sink types.TraceSink) *Recorder {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 50
	}
	if cfg.DedupeWindowMS <= 0 {
		cfg.DedupeWindowMS = 400
	}
	return &Recorder{cfg: cfg, sink: sink, now: time.Now}
}

// Commit is one action to record. ParentTraceID is set for chained
// commits (a bridge landing after its source action).
type Commit struct {
	ActionType    string
	Target        types.TargetRef
	Scope         types.ScopeRef
	Provenance    types.Provenance
	DeltaHint     string
	ParentTraceID string
	Outcome       types.ActionOutcome
}

// IsDuplicate reports whether c would collapse into the newest trace entry,
// without recording anything. Callers use it to make double submits
// idempotent before side effects run.
func (r *Recorder) IsDuplicate(state *types.ContinuityState, c Commit) bool {
	if len(state.RecentActionTrace) == 0 {
		return false
	}
	head := state.RecentActionTrace[0]
	key := DedupeKey(c.ActionType, c.Target, c.Scope, c.DeltaHint)
	return head.DedupeKey == key && r.now().UnixMilli()-head.TSMs <= int64(r.cfg.DedupeWindowMS)
}

// Record appends one committed action to state's trace. An identical commit
// inside the dedupe window collapses into the existing entry and the
// existing entry is returned with recorded=false. Failed outcomes are kept
// in the trace (marked) but are never the last resolved action.
func (r *Recorder) Record(state *types.ContinuityState, c Commit) (types.ActionTraceEntry, bool) {
	key := DedupeKey(c.ActionType, c.Target, c.Scope, c.DeltaHint)
	nowMs := r.now().UnixMilli()

	if len(state.RecentActionTrace) > 0 {
		head := state.RecentActionTrace[0]
		if head.DedupeKey == key && nowMs-head.TSMs <= int64(r.cfg.DedupeWindowMS) {
			logging.Trace("collapsed duplicate commit %s within %dms", c.ActionType, r.cfg.DedupeWindowMS)
			return head, false
		}
	}

	state.TraceSeq++
	entry := types.ActionTraceEntry{
		TraceID:        uuid.NewString(),
		Seq:            state.TraceSeq,
		TSMs:           nowMs,
		ActionType:     c.ActionType,
		Target:         c.Target,
		Scope:          c.Scope,
		Provenance:     c.Provenance,
		DedupeKey:      key,
		ParentTraceID:  c.ParentTraceID,
		DeltaHint:      c.DeltaHint,
		UserMeaningful: IsUserMeaningful(c.ActionType),
		Outcome:        c.Outcome,
	}

	state.RecentActionTrace = append([]types.ActionTraceEntry{entry}, state.RecentActionTrace...)
	if len(state.RecentActionTrace) > r.cfg.MaxEntries {
		state.RecentActionTrace = state.RecentActionTrace[:r.cfg.MaxEntries]
	}
	if c.Outcome == types.OutcomeSuccess {
		state.LastResolvedAction = &entry
	}

	if r.sink != nil {
		if err := r.sink.AppendTrace(state.SessionID, entry); err != nil {
			logging.Get(logging.CategoryTrace).Warn("trace sink append failed: %v", err)
		}
	}
	return entry, true
}

// FreshFor reports whether entry is recent enough for a bridge that rides
// on it. A stale source action must not produce a follow-on commit.
func (r *Recorder) FreshFor(entry *types.ActionTraceEntry, maxAge time.Duration) bool {
	if entry == nil {
		return false
	}
	return r.now().UnixMilli()-entry.TSMs <= maxAge.Milliseconds()
}

// DedupeKey builds the canonical idempotency key for one commit.
func DedupeKey(actionType string, target types.TargetRef, scope types.ScopeRef, deltaHint string) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s:%s|%s:%s|%s", actionType, target.Kind, target.ID, scope.Kind, scope.InstanceID, deltaHint)
	return hex.EncodeToString(h.Sum(nil))
}

// userMeaningfulActions maps action types the user would recognize as
// something they did. Internal bookkeeping actions resolve to false and are
// skipped by "what did I just do" style lookups.
var userMeaningfulActions = map[string]bool{
	"open":      true,
	"close":     true,
	"select":    true,
	"focus":     true,
	"navigate":  true,
	"expand":    true,
	"collapse":  true,
	"pin":       true,
	"unpin":     true,
	"refresh":   false,
	"snapshot":  false,
	"prefetch":  false,
	"telemetry": false,
}

// IsUserMeaningful classifies an action type; unknown types default to
// meaningful so continuity errs toward remembering.
func IsUserMeaningful(actionType string) bool {
	if v, ok := userMeaningfulActions[actionType]; ok {
		return v
	}
	return true
}
