// Package session owns per-session continuity state. Turns within one
// session are strictly sequential; sessions are independent and concurrent.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// Config controls option-set lifetime and session eviction.
type Config struct {
	OptionSetTTLTurns int
	ChoiceWindow      int
	IdleEviction      time.Duration
}

// Session is one user's continuity slot. The embedded mutex serializes
// turns: a second utterance for the same session blocks until the first
// one's decision is fully applied.
type Session struct {
	mu    sync.Mutex
	State types.ContinuityState
	cfg   Config
}

// Registry maps session ids to live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	now      func() time.Time
}

func NewRegistry(cfg Config) *Registry {
	if cfg.OptionSetTTLTurns <= 0 {
		cfg.OptionSetTTLTurns = 3
	}
	if cfg.ChoiceWindow <= 0 {
		cfg.ChoiceWindow = 5
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Acquire returns the session for id, creating it on first use, with its
// turn lock held. The caller must call the returned release func once the
// turn's state mutations are complete.
func (r *Registry) Acquire(id string) (*Session, func()) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = &Session{cfg: r.cfg, State: types.ContinuityState{SessionID: id}}
		r.sessions[id] = s
		logging.Routing("session created: %s", id)
	}
	r.mu.Unlock()

	s.mu.Lock()
	s.State.LastActivity = r.now()
	return s, s.mu.Unlock
}

// EvictIdle drops sessions untouched past the idle threshold. Returns the
// number evicted.
func (r *Registry) EvictIdle() int {
	if r.cfg.IdleEviction <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.IdleEviction)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := s.State.LastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		logging.Routing("evicted %d idle sessions", n)
	}
	return n
}

// Peek returns a copy of the session's state without creating it. The copy
// is taken under the session lock, so it never interleaves with a turn.
func (r *Registry) Peek(id string) (types.ContinuityState, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return types.ContinuityState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// BeginTurn advances the turn counter and expires a stale option set.
// Called once at the top of every dispatched turn.
func (s *Session) BeginTurn() {
	s.State.Turn++
	if set := s.State.ActiveSet; set != nil {
		if s.State.Turn-set.CreatedAtTurn > s.cfg.OptionSetTTLTurns {
			logging.Routing("option set %s expired after %d turns", set.ID, s.cfg.OptionSetTTLTurns)
			s.State.ActiveSet = nil
			switch s.State.PendingClarifier {
			case types.ClarifierSelection, types.ClarifierExitConfirm:
				s.State.PendingClarifier = types.ClarifierNone
			}
		}
	}
	if p := s.State.PendingScopeClarifier; p != nil && s.State.Turn-p.AskedAtTurn > 1 {
		// Replay clarifiers live exactly one turn.
		s.State.PendingScopeClarifier = nil
		if s.State.PendingClarifier == types.ClarifierScopeTypo {
			s.State.PendingClarifier = types.ClarifierNone
		}
	}
}

// RegisterOptionSet installs a freshly shown option list. The active set is
// wholly replaced, never merged, and any pending replay state for the old
// set is cleared.
func (s *Session) RegisterOptionSet(candidates []types.CandidateRef, scope types.Scope, question string) *types.ActiveOptionSet {
	set := &types.ActiveOptionSet{
		ID:            uuid.NewString(),
		Candidates:    candidates,
		Scope:         scope,
		CreatedAtTurn: s.State.Turn,
		Question:      question,
	}
	s.State.ActiveSet = set
	s.State.ActiveScope = scope
	s.State.PendingScopeClarifier = nil
	if question != "" {
		s.State.PendingClarifier = types.ClarifierSelection
	} else {
		s.State.PendingClarifier = types.ClarifierNone
	}
	return set
}

// PauseActive shelves the active option set when an interrupt preempts a
// pending clarification. The paused set survives exactly one interposed
// action and can then be resumed.
func (s *Session) PauseActive() {
	if s.State.ActiveSet == nil {
		return
	}
	s.State.PausedSet = s.State.ActiveSet
	s.State.ActiveSet = nil
	s.State.PendingClarifier = types.ClarifierNone
}

// ResumeActive restores the paused set as active, refreshing its TTL.
// Returns nil when nothing is paused.
func (s *Session) ResumeActive() *types.ActiveOptionSet {
	set := s.State.PausedSet
	if set == nil {
		return nil
	}
	s.State.PausedSet = nil
	set.CreatedAtTurn = s.State.Turn
	s.State.ActiveSet = set
	if set.Question != "" {
		s.State.PendingClarifier = types.ClarifierSelection
	}
	return set
}

// ClearActive drops the active set and its pending clarifier.
func (s *Session) ClearActive() {
	s.State.ActiveSet = nil
	s.State.PendingClarifier = types.ClarifierNone
}

// RecordAccepted notes a resolved choice in the recent-accepted window.
func (s *Session) RecordAccepted(candidateID string) {
	s.State.LastAcceptedChoiceID = candidateID
	s.State.RecentAcceptedChoices = pushWindow(s.State.RecentAcceptedChoices, candidateID, s.cfg.ChoiceWindow)
}

// RecordRejected notes a declined suggestion in the recent-rejected window.
func (s *Session) RecordRejected(candidateID string) {
	s.State.RecentRejectedChoices = pushWindow(s.State.RecentRejectedChoices, candidateID, s.cfg.ChoiceWindow)
}

// RecentlyRejected reports whether the user turned this candidate down
// within the choice window.
func (s *Session) RecentlyRejected(candidateID string) bool {
	for _, id := range s.State.RecentRejectedChoices {
		if id == candidateID {
			return true
		}
	}
	return false
}

func pushWindow(w []string, v string, max int) []string {
	w = append([]string{v}, w...)
	if len(w) > max {
		w = w[:max]
	}
	return w
}
