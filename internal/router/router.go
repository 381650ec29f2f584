// Package router is the turn dispatcher. Every utterance passes through a
// fixed priority chain: hard interrupts, return/resume cues, new-topic
// commands, clarification replies, bare known nouns, and finally the
// question/docs lane. Each chain link either produces the turn's single
// RoutingDecision or passes to the next; the safe clarifier terminates every
// chain, so a turn can never fall off the end unanswered.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wayfind/internal/advisory"
	"wayfind/internal/clarify"
	"wayfind/internal/classify"
	"wayfind/internal/logging"
	"wayfind/internal/match"
	"wayfind/internal/pool"
	"wayfind/internal/scope"
	"wayfind/internal/session"
	"wayfind/internal/trace"
	"wayfind/internal/types"
)

// Tier names reported in decisions and telemetry.
const (
	TierInterrupt     = "interrupt"
	TierResume        = "resume"
	TierCommand       = "command"
	TierClarification = "clarification"
	TierKnownNoun     = "known_noun"
	TierDocs          = "docs"
)

// Deps wires the router's collaborators. Retriever, Executor, and Sink are
// optional; a nil executor makes every execution a no-op commit.
type Deps struct {
	Sessions   *session.Registry
	Scopes     *scope.Resolver
	Pools      *pool.Builder
	Arbitrator *advisory.Arbitrator
	Clarifier  *clarify.Clarifier
	Recorder   *trace.Recorder
	Retriever  types.Retriever
	Executor   types.ExecutionSink
	Sink       types.TraceSink

	// DefaultScope is used when neither the utterance nor the session
	// carries a scope. Candidates are still never mixed across scopes.
	DefaultScope types.Scope

	// ResumeWindow bounds how old a committed action may be and still be
	// re-executed by a return cue. Stale actions are not silently replayed.
	ResumeWindow time.Duration
}

// Router routes utterances to decisions. Safe for concurrent use; turns
// within one session serialize on the session lock.
type Router struct {
	deps Deps
}

func New(deps Deps) (*Router, error) {
	if deps.Sessions == nil || deps.Scopes == nil || deps.Pools == nil ||
		deps.Arbitrator == nil || deps.Clarifier == nil || deps.Recorder == nil {
		return nil, errors.New("router: missing required dependency")
	}
	if deps.DefaultScope == "" {
		deps.DefaultScope = types.ScopeWidget
	}
	if deps.ResumeWindow == 0 {
		deps.ResumeWindow = 10 * time.Minute
	}
	return &Router{deps: deps}, nil
}

// Route produces exactly one decision for one utterance. It returns an error
// only for an unusable request; every in-band failure becomes a safe
// decision instead.
func (r *Router) Route(ctx context.Context, text, sessionID string) (types.RoutingDecision, error) {
	if strings.TrimSpace(sessionID) == "" {
		return types.RoutingDecision{}, errors.New("router: session id required")
	}

	sess, release := r.deps.Sessions.Acquire(sessionID)
	defer release()
	sess.BeginTurn()

	intent := classify.Classify(text)
	logging.Routing("turn %d session=%s kind=%s text=%q", sess.State.Turn, sessionID, intent.Kind, intent.Normalized)

	d := r.dispatch(ctx, sess, intent)
	r.emitDecision(sess, d)
	logging.Routing("turn %d decided: tier=%s outcome=%s chosen=%s", sess.State.Turn, d.Tier, d.Outcome, d.ChosenCandidateID)
	return d, nil
}

// ContinuityFor returns a copy of a session's continuity state, or false if
// the session was never seen or has been evicted.
func (r *Router) ContinuityFor(sessionID string) (types.ContinuityState, bool) {
	return r.deps.Sessions.Peek(sessionID)
}

func (r *Router) dispatch(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) types.RoutingDecision {
	st := &sess.State
	norm := intent.Normalized

	if classify.IsHardInterrupt(norm) {
		return r.handleInterrupt(sess)
	}
	if st.PendingClarifier == types.ClarifierExitConfirm {
		return r.handleExitConfirm(ctx, sess, intent)
	}
	if st.PendingScopeClarifier != nil {
		return r.handleScopeReplay(ctx, sess, intent)
	}
	if classify.IsReturnCue(norm) {
		return r.handleResume(ctx, sess)
	}
	return r.routeFresh(ctx, sess, intent)
}

// routeFresh is the tail of the chain shared by normal turns and turns that
// abandoned a pending clarifier.
func (r *Router) routeFresh(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) types.RoutingDecision {
	st := &sess.State

	if intent.IsCommand {
		return r.handleCommand(ctx, sess, intent)
	}
	if st.ActiveSet != nil {
		if d, ok := r.handleSelection(ctx, sess, intent); ok {
			return d
		}
	}
	if d, ok := r.handleKnownNoun(ctx, sess, intent); ok {
		return d
	}
	if intent.Kind == types.IntentQuestion || intent.IsQuestion {
		return r.handleDocs(ctx, sess, intent)
	}
	if intent.Kind == types.IntentMeta {
		return r.handleMeta(sess)
	}

	return types.RoutingDecision{
		Outcome:  types.DecideSafeClarifier,
		Tier:     TierClarification,
		Response: "I'm not sure what you'd like to do. You can name something on screen, or ask a question.",
	}
}

// ===========================================================================
// TIER 1: HARD INTERRUPTS
// ===========================================================================

func (r *Router) handleInterrupt(sess *session.Session) types.RoutingDecision {
	st := &sess.State

	// A second interrupt while the exit confirmation is pending confirms it.
	if st.PendingClarifier == types.ClarifierExitConfirm {
		r.abandonAll(sess)
		return types.RoutingDecision{
			Outcome:  types.DecideSafeClarifier,
			Tier:     TierInterrupt,
			Response: "Okay, cancelled.",
		}
	}

	// An exit-shaped word during a pending selection is ambiguous: the user
	// may be cancelling the choice or the whole task. Confirm, keeping the
	// options visible so they can still just pick one.
	if st.PendingClarifier == types.ClarifierSelection && st.ActiveSet != nil {
		st.PendingClarifier = types.ClarifierExitConfirm
		return types.RoutingDecision{
			Outcome:       types.DecideSafeClarifier,
			Tier:          TierInterrupt,
			ClarifierText: r.deps.Clarifier.AskExitConfirm(st.ActiveSet),
		}
	}

	r.abandonAll(sess)
	return types.RoutingDecision{
		Outcome:  types.DecideSafeClarifier,
		Tier:     TierInterrupt,
		Response: "Okay, stopped.",
	}
}

func (r *Router) handleExitConfirm(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) types.RoutingDecision {
	st := &sess.State
	if st.ActiveSet == nil {
		st.PendingClarifier = types.ClarifierNone
		return r.routeFresh(ctx, sess, intent)
	}

	switch intent.Kind {
	case types.IntentAffirmation:
		r.abandonAll(sess)
		return types.RoutingDecision{
			Outcome:  types.DecideSafeClarifier,
			Tier:     TierInterrupt,
			Response: "Okay, cancelled.",
		}
	case types.IntentRejection:
		st.PendingClarifier = types.ClarifierSelection
		return types.RoutingDecision{
			Outcome:       types.DecideSafeClarifier,
			Tier:          TierClarification,
			ClarifierText: st.ActiveSet.Question,
		}
	}

	// Picking an option answers the confirmation implicitly.
	if st.ActiveSet != nil {
		if res := match.Resolve(intent.Normalized, st.ActiveSet.Candidates); res.Candidate != nil {
			return r.execute(ctx, sess, "open", *res.Candidate, types.ProvenanceClarifierReply, TierClarification, types.DecideDeterministicExecute)
		}
	}

	// Anything else means the user moved on.
	st.PendingClarifier = types.ClarifierSelection
	return r.routeFresh(ctx, sess, intent)
}

// ===========================================================================
// SCOPE-TYPO REPLAY
// ===========================================================================

func (r *Router) handleScopeReplay(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) types.RoutingDecision {
	st := &sess.State
	p := st.PendingScopeClarifier
	st.PendingScopeClarifier = nil
	st.PendingClarifier = types.ClarifierNone

	switch intent.Kind {
	case types.IntentAffirmation:
		cands, err := r.deps.Pools.Build(ctx, p.Guess, "")
		if err != nil {
			logging.Get(logging.CategoryRouting).Warn("pool build failed on replay: %v", err)
		}
		// The confirmation only replays against the world it was asked
		// about. Drifted candidates get a fresh question instead.
		if advisory.Fingerprint(p.Residual, cands) != p.Fingerprint {
			return r.askClarifier(sess, p.Residual, cands, p.Guess, nil)
		}
		replay := classify.Classify(p.Residual)
		residual := replay.Topic
		if residual == "" {
			residual = p.Residual
		}
		return r.resolveInScope(ctx, sess, commandAction(p.Residual, replay.Kind), residual, p.Guess, cands, nil)

	case types.IntentRejection:
		return types.RoutingDecision{
			Outcome:       types.DecideSafeClarifier,
			Tier:          TierClarification,
			ClarifierText: "No problem. Which surface did you mean: chat, widget, dashboard, or workspace?",
		}
	}

	return r.routeFresh(ctx, sess, intent)
}

// ===========================================================================
// TIER 2: RETURN / RESUME
// ===========================================================================

func (r *Router) handleResume(ctx context.Context, sess *session.Session) types.RoutingDecision {
	st := &sess.State

	if set := sess.ResumeActive(); set != nil {
		text := set.Question
		if text == "" {
			q, _ := r.deps.Clarifier.Ask("", set.Candidates, clarify.IDs(set.Candidates))
			text = q
		}
		return types.RoutingDecision{
			Outcome:       types.DecideSafeClarifier,
			Tier:          TierResume,
			ClarifierText: text,
		}
	}

	// No paused list: go back to the previous meaningful committed action,
	// provided it is still fresh enough to replay.
	if prev := previousMeaningful(st.RecentActionTrace); prev != nil && r.deps.Recorder.FreshFor(prev, r.deps.ResumeWindow) {
		cand := types.CandidateRef{
			ID:    prev.Target.ID,
			Label: prev.Target.Label,
			Type:  prev.Target.Kind,
			Scope: prev.Scope.Kind,
		}
		return r.execute(ctx, sess, prev.ActionType, cand, types.ProvenanceResume, TierResume, types.DecideDeterministicExecute)
	}

	return types.RoutingDecision{
		Outcome:  types.DecideSafeClarifier,
		Tier:     TierResume,
		Response: "There's nothing to go back to yet.",
	}
}

// previousMeaningful finds the committed action before the newest one worth
// returning to.
func previousMeaningful(entries []types.ActionTraceEntry) *types.ActionTraceEntry {
	seenFirst := false
	for i := range entries {
		e := &entries[i]
		if !e.UserMeaningful || e.Outcome != types.OutcomeSuccess {
			continue
		}
		if !seenFirst {
			seenFirst = true
			continue
		}
		return e
	}
	return nil
}

// ===========================================================================
// TIER 3: NEW-TOPIC COMMANDS
// ===========================================================================

func (r *Router) handleCommand(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) types.RoutingDecision {
	st := &sess.State

	// A command while a clarification is pending preempts it. The list is
	// paused, not lost, so a later return cue can restore it. The preempted
	// set and its cycle are kept aside: a command that resolves nothing falls
	// back to re-showing those exact options, never a rebuilt pool.
	var fb *pendingFallback
	if st.PendingClarifier == types.ClarifierSelection && st.ActiveSet != nil {
		fb = &pendingFallback{set: st.ActiveSet, guard: st.Guard}
		sess.PauseActive()
		logging.Routing("paused pending option set for interposed command")
	}

	cue := r.deps.Scopes.Resolve(intent.Normalized)

	if cue.TypoToken != "" {
		return r.askScopeReplay(ctx, sess, cue)
	}

	stripped := classify.Classify(cue.Stripped)
	residual := stripped.Topic
	if residual == "" {
		residual = intent.Topic
	}
	actionType := commandAction(cue.Stripped, stripped.Kind)

	scopeKind := cue.Scope
	if scopeKind == types.ScopeNone {
		scopeKind = st.ActiveScope
	}
	if scopeKind == types.ScopeNone || scopeKind == "" {
		scopeKind = r.deps.DefaultScope
	}

	cands, err := r.deps.Pools.Build(ctx, scopeKind, cue.Instance)
	if err != nil {
		logging.Get(logging.CategoryRouting).Warn("pool build failed: %v", err)
	}
	if len(cands) == 0 {
		// An empty pool in the addressed scope is an honest no, never a
		// fallthrough to some other scope.
		return types.RoutingDecision{
			Outcome:  types.DecideSafeClarifier,
			Tier:     TierCommand,
			Response: r.deps.Clarifier.NotFound(residual, scopeKind),
		}
	}

	return r.resolveInScope(ctx, sess, actionType, residual, scopeKind, cands, fb)
}

// pendingFallback carries a clarifier preempted by an interposed command so
// an unresolvable command re-shows the stored options rather than a rebuilt
// pool.
type pendingFallback struct {
	set   *types.ActiveOptionSet
	guard *types.LoopGuardState
}

// resolveInScope runs the deterministic-advisory-clarifier ladder over one
// scoped pool.
func (r *Router) resolveInScope(ctx context.Context, sess *session.Session, actionType, residual string, scopeKind types.Scope, cands []types.CandidateRef, fb *pendingFallback) types.RoutingDecision {
	st := &sess.State
	st.ActiveScope = scopeKind

	res := match.Resolve(residual, cands)
	if res.Candidate != nil {
		return r.execute(ctx, sess, actionType, *res.Candidate, types.ProvenanceDeterministic, TierCommand, types.DecideDeterministicExecute)
	}
	if residual == "" && len(cands) == 1 {
		// A bare verb with exactly one visible target is unambiguous.
		return r.execute(ctx, sess, actionType, cands[0], types.ProvenanceDeterministic, TierCommand, types.DecideDeterministicExecute)
	}

	guard := clarify.EnterCycle(st, types.IntentCommand, residual)
	out := r.deps.Arbitrator.Run(ctx, types.ModeSelection, residual, cands, scopeKind, "", guard)
	if out.Result.Kind == types.ResultSelect {
		if cand := findCandidate(out.Pool, out.Result.CandidateID); cand != nil {
			d := r.execute(ctx, sess, actionType, *cand, types.ProvenanceAdvisory, TierCommand, types.DecideAdvisoryExecute)
			d.Collision = res.Collision
			d.Arbitration = arbStats(out)
			return d
		}
	}

	if fb != nil && fb.set != nil {
		// The interposed command resolved nothing. Restore the preempted
		// clarifier and re-show its stored options through its own cycle, so
		// the user sees the list they already had, unchanged.
		sess.ResumeActive()
		g := fb.guard
		if g == nil {
			g = guard
		}
		st.Guard = g
		d := r.askClarifier(sess, residual, fb.set.Candidates, fb.set.Scope, g)
		d.Collision = res.Collision
		d.Arbitration = arbStats(out)
		return d
	}

	d := r.askClarifier(sess, residual, out.Pool, scopeKind, guard)
	d.Collision = res.Collision
	d.Arbitration = arbStats(out)
	return d
}

func arbStats(out advisory.Outcome) *types.ArbitrationStats {
	return &types.ArbitrationStats{
		FingerprintBefore: out.FingerprintBefore,
		FingerprintAfter:  out.FingerprintAfter,
		Steps:             out.Steps,
		CallsMade:         out.CallsMade,
		BudgetRemaining:   out.BudgetRemaining,
	}
}

func (r *Router) askScopeReplay(ctx context.Context, sess *session.Session, cue types.ScopeCue) types.RoutingDecision {
	st := &sess.State

	cands, err := r.deps.Pools.Build(ctx, cue.TypoScope, "")
	if err != nil {
		logging.Get(logging.CategoryRouting).Warn("pool build failed for replay fingerprint: %v", err)
	}
	st.PendingScopeClarifier = &types.PendingScopeClarifier{
		Token:       cue.TypoToken,
		Guess:       cue.TypoScope,
		Residual:    cue.Stripped,
		AskedAtTurn: st.Turn,
		Fingerprint: advisory.Fingerprint(cue.Stripped, cands),
	}
	st.PendingClarifier = types.ClarifierScopeTypo

	return types.RoutingDecision{
		Outcome:       types.DecideSafeClarifier,
		Tier:          TierCommand,
		ClarifierText: r.deps.Clarifier.AskScopeReplay(st.PendingScopeClarifier),
	}
}

// askClarifier shows (or re-shows, under the loop guard) a selection
// question and installs the shown candidates as the active option set.
func (r *Router) askClarifier(sess *session.Session, residual string, cands []types.CandidateRef, scopeKind types.Scope, guard *types.LoopGuardState) types.RoutingDecision {
	var order []string
	if clarify.ShouldReshow(guard) {
		order = guard.SuggestionOrder
	}
	q, shown := r.deps.Clarifier.Ask(residual, cands, order)
	clarify.RecordShown(guard, shown)
	if len(shown) > 0 {
		sess.RegisterOptionSet(shown, scopeKind, q)
	}
	return types.RoutingDecision{
		Outcome:       types.DecideSafeClarifier,
		Tier:          TierClarification,
		ClarifierText: q,
	}
}

// ===========================================================================
// TIER 4: CLARIFICATION REPLIES
// ===========================================================================

func (r *Router) handleSelection(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) (types.RoutingDecision, bool) {
	st := &sess.State
	set := st.ActiveSet
	pending := st.PendingClarifier == types.ClarifierSelection

	switch intent.Kind {
	case types.IntentRejection:
		if !pending {
			return types.RoutingDecision{}, false
		}
		if st.Guard != nil && len(st.Guard.SuggestionOrder) > 0 {
			sess.RecordRejected(st.Guard.SuggestionOrder[0])
		}
		r.abandonAll(sess)
		return types.RoutingDecision{
			Outcome:  types.DecideSafeClarifier,
			Tier:     TierClarification,
			Response: "Okay. What would you like instead?",
		}, true

	case types.IntentAffirmation:
		if !pending {
			return types.RoutingDecision{}, false
		}
		if len(set.Candidates) == 1 {
			return r.execute(ctx, sess, "open", set.Candidates[0], types.ProvenanceClarifierReply, TierClarification, types.DecideDeterministicExecute), true
		}
		return types.RoutingDecision{
			Outcome:       types.DecideSafeClarifier,
			Tier:          TierClarification,
			ClarifierText: set.Question,
		}, true
	}

	// Deterministic selection: pure ordinal or exact label against the
	// stored set, valid whether or not a question is outstanding.
	res := match.Resolve(intent.Normalized, set.Candidates)
	if res.Candidate != nil {
		return r.execute(ctx, sess, "open", *res.Candidate, types.ProvenanceClarifierReply, TierClarification, types.DecideDeterministicExecute), true
	}

	if !pending {
		// Without an outstanding question, only selection-shaped input may
		// bind to a lingering list.
		return types.RoutingDecision{}, false
	}

	// Free-form reply to the outstanding question: resolve it against the
	// literal stored question and stored candidates, never a rebuilt pool.
	// The reply belongs to the cycle that produced the question, so the
	// guard is reused rather than re-keyed on the reply text.
	guard := st.Guard
	if guard == nil {
		guard = clarify.EnterCycle(st, intent.Kind, intent.Normalized)
	}
	out := r.deps.Arbitrator.Run(ctx, types.ModeClarifierReply, intent.Normalized, set.Candidates, set.Scope, set.Question, guard)
	if out.Result.Kind == types.ResultSelect && !sess.RecentlyRejected(out.Result.CandidateID) {
		if cand := findCandidate(set.Candidates, out.Result.CandidateID); cand != nil {
			d := r.execute(ctx, sess, "open", *cand, types.ProvenanceAdvisory, TierClarification, types.DecideAdvisoryInfluenced)
			d.Collision = res.Collision
			d.Arbitration = arbStats(out)
			return d, true
		}
	}

	d := r.askClarifier(sess, intent.Normalized, set.Candidates, set.Scope, guard)
	d.Collision = res.Collision
	d.Arbitration = arbStats(out)
	return d, true
}

// ===========================================================================
// TIER 5: KNOWN NOUNS
// ===========================================================================

func (r *Router) handleKnownNoun(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) (types.RoutingDecision, bool) {
	if intent.IsQuestion || intent.Kind == types.IntentMeta || intent.Kind == types.IntentRejection ||
		intent.Kind == types.IntentAffirmation || intent.Normalized == "" {
		return types.RoutingDecision{}, false
	}

	st := &sess.State
	scopeKind := st.ActiveScope
	if scopeKind == types.ScopeNone || scopeKind == "" {
		scopeKind = r.deps.DefaultScope
	}
	cands, err := r.deps.Pools.Build(ctx, scopeKind, "")
	if err != nil || len(cands) == 0 {
		return types.RoutingDecision{}, false
	}

	// Exact whole-string label equality only. A bare noun that merely
	// resembles something visible is not a command.
	res := match.Resolve(intent.Normalized, cands)
	if res.Candidate == nil || res.Kind != "label" {
		return types.RoutingDecision{}, false
	}
	return r.execute(ctx, sess, "open", *res.Candidate, types.ProvenanceKnownNoun, TierKnownNoun, types.DecideDeterministicExecute), true
}

// ===========================================================================
// TIER 6: QUESTIONS AND DOCS
// ===========================================================================

func (r *Router) handleDocs(ctx context.Context, sess *session.Session, intent types.ClassifiedIntent) types.RoutingDecision {
	query := intent.Topic
	if query == "" {
		query = intent.Normalized
	}
	handoff := &types.HandoffRequest{Query: intent.Normalized, Topic: intent.Topic}

	if r.deps.Retriever != nil {
		rr, err := r.deps.Retriever.Retrieve(ctx, query)
		if err != nil {
			logging.Get(logging.CategoryRouting).Warn("doc retrieval failed: %v", err)
		} else {
			switch rr.Status {
			case types.RetrievalFound:
				top := rr.Results[0]
				return types.RoutingDecision{
					Outcome:  types.DecideHandoff,
					Tier:     TierDocs,
					Response: fmt.Sprintf("%s: %s", top.Title, top.Snippet),
					Handoff:  handoff,
				}
			case types.RetrievalAmbiguous:
				text := rr.Clarification
				if text == "" {
					text = "I found a few different topics for that. Could you narrow it down?"
				}
				return types.RoutingDecision{
					Outcome:       types.DecideSafeClarifier,
					Tier:          TierDocs,
					ClarifierText: text,
				}
			}
		}
	}

	if answer, ok := r.deps.Arbitrator.Answer(ctx, query); ok {
		return types.RoutingDecision{
			Outcome:  types.DecideHandoff,
			Tier:     TierDocs,
			Response: answer,
			Handoff:  handoff,
		}
	}

	return types.RoutingDecision{
		Outcome:  types.DecideHandoff,
		Tier:     TierDocs,
		Response: fmt.Sprintf("I don't have anything on %q yet.", query),
		Handoff:  handoff,
	}
}

func (r *Router) handleMeta(sess *session.Session) types.RoutingDecision {
	st := &sess.State
	if st.ActiveSet != nil && st.ActiveSet.Question != "" {
		return types.RoutingDecision{
			Outcome:       types.DecideSafeClarifier,
			Tier:          TierClarification,
			ClarifierText: st.ActiveSet.Question,
		}
	}
	return types.RoutingDecision{
		Outcome:  types.DecideSafeClarifier,
		Tier:     TierClarification,
		Response: "You can open things by name (\"open sample2\"), pick from a list (\"the second one\"), or ask questions (\"what is a widget?\").",
	}
}

// ===========================================================================
// EXECUTION
// ===========================================================================

func (r *Router) execute(ctx context.Context, sess *session.Session, actionType string, cand types.CandidateRef, prov types.Provenance, tier string, outcome types.DecisionOutcome) types.RoutingDecision {
	st := &sess.State

	commit := trace.Commit{
		ActionType: actionType,
		Target:     types.TargetRef{Kind: cand.Type, ID: cand.ID, Label: cand.Label},
		Scope:      types.ScopeRef{Kind: cand.Scope},
		Provenance: prov,
		Outcome:    types.OutcomeSuccess,
	}
	// Double submits inside the collapse window are idempotent: acknowledge
	// without running the action again.
	if r.deps.Recorder.IsDuplicate(st, commit) {
		return types.RoutingDecision{
			Outcome:           outcome,
			Tier:              tier,
			ChosenCandidateID: cand.ID,
			Response:          ack(actionType, cand.Label),
		}
	}

	result := types.OutcomeSuccess
	if r.deps.Executor != nil {
		if err := r.deps.Executor.Execute(ctx, actionType, cand); err != nil {
			logging.Get(logging.CategoryRouting).Warn("execution failed: action=%s target=%s err=%v", actionType, cand.ID, err)
			result = types.OutcomeFailed
		}
	}

	commit.Outcome = result
	r.deps.Recorder.Record(st, commit)

	if result == types.OutcomeFailed {
		return types.RoutingDecision{
			Outcome:           outcome,
			Tier:              tier,
			ChosenCandidateID: cand.ID,
			Response:          fmt.Sprintf("I couldn't %s %s just now.", actionType, cand.Label),
		}
	}

	sess.RecordAccepted(cand.ID)
	sess.ClearActive()
	st.PendingScopeClarifier = nil
	clarify.ExitCycle(st)

	return types.RoutingDecision{
		Outcome:           outcome,
		Tier:              tier,
		ChosenCandidateID: cand.ID,
		Response:          ack(actionType, cand.Label),
	}
}

// abandonAll clears every piece of pending conversational state.
func (r *Router) abandonAll(sess *session.Session) {
	st := &sess.State
	sess.ClearActive()
	st.PausedSet = nil
	st.PendingScopeClarifier = nil
	clarify.ExitCycle(st)
}

func (r *Router) emitDecision(sess *session.Session, d types.RoutingDecision) {
	if r.deps.Sink == nil {
		return
	}
	st := &sess.State
	ev := types.DecisionEvent{
		SessionID: st.SessionID,
		Turn:      st.Turn,
		Tier:      d.Tier,
		Outcome:   d.Outcome,
		Collision: d.Collision,
		TSMs:      time.Now().UnixMilli(),
	}
	if st.ActiveSet != nil {
		ev.CandidateCount = len(st.ActiveSet.Candidates)
	}
	if g := st.Guard; g != nil {
		ev.LoopCycleID = g.CycleID
	}
	if a := d.Arbitration; a != nil {
		ev.FingerprintBefore = a.FingerprintBefore
		ev.FingerprintAfter = a.FingerprintAfter
		ev.RetryBudgetRemaining = a.BudgetRemaining
	}
	if err := r.deps.Sink.AppendDecision(ev); err != nil {
		logging.Get(logging.CategoryRouting).Warn("decision telemetry append failed: %v", err)
	}
}

var actionAcks = map[string]string{
	"open":     "Opening",
	"show":     "Showing",
	"close":    "Closing",
	"navigate": "Taking you to",
	"expand":   "Expanding",
	"collapse": "Collapsing",
	"pin":      "Pinning",
	"unpin":    "Unpinning",
}

func ack(actionType, label string) string {
	if v, ok := actionAcks[actionType]; ok {
		return fmt.Sprintf("%s %s.", v, label)
	}
	return fmt.Sprintf("Done: %s %s.", actionType, label)
}

// commandAction derives the executable action type from the stripped command
// text.
func commandAction(stripped string, kind types.IntentKind) string {
	if kind == types.IntentNavigate {
		return "navigate"
	}
	first := stripped
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	if first == "" {
		return "open"
	}
	return first
}

func findCandidate(pool []types.CandidateRef, id string) *types.CandidateRef {
	for i := range pool {
		if pool[i].ID == id {
			return &pool[i]
		}
	}
	return nil
}
