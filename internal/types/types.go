// Package types provides shared type definitions used across wayfind packages.
// This package exists to break import cycles between the router, the trace
// recorder, and the advisory layer. Types in this package should be
// foundational data structures with no complex dependencies.
package types

import "time"

// =============================================================================
// SCOPES
// =============================================================================

// Scope identifies the surface a candidate or cue is pinned to.
type Scope string

const (
	ScopeChat      Scope = "chat"
	ScopeWidget    Scope = "widget"
	ScopeDashboard Scope = "dashboard"
	ScopeWorkspace Scope = "workspace"
	ScopeNone      Scope = "none"
)

// KnownScopes lists every addressable surface, in resolution-priority order.
var KnownScopes = []Scope{ScopeChat, ScopeWidget, ScopeDashboard, ScopeWorkspace}

// =============================================================================
// UTTERANCE AND CLASSIFICATION
// =============================================================================

// Utterance is one raw user turn. Immutable once created.
type Utterance struct {
	Text      string
	Turn      int
	SessionID string
	ArrivedAt time.Time
}

// IntentKind is the tagged variant a turn classifies into.
type IntentKind string

const (
	IntentAffirmation IntentKind = "affirmation"
	IntentRejection   IntentKind = "rejection"
	IntentCorrection  IntentKind = "correction"
	IntentQuestion    IntentKind = "question"
	IntentCommand     IntentKind = "command"
	IntentMeta        IntentKind = "meta"
	IntentFollowup    IntentKind = "followup"
	IntentNavigate    IntentKind = "navigate"
	IntentUnknown     IntentKind = "unknown"
)

// ClassifiedIntent is the stateless classification of one utterance.
// It is recomputed every turn and never persisted.
type ClassifiedIntent struct {
	Kind       IntentKind
	IsQuestion bool
	IsCommand  bool
	Topic      string // extracted topic for explain/doc-query intents, may be empty
	Normalized string // normalized text the classification was derived from
}

// SourceKind distinguishes a named surface reference from a generic one.
type SourceKind string

const (
	SourceNamed   SourceKind = "named"
	SourceGeneric SourceKind = "generic"
	SourceNone    SourceKind = "none"
)

// ScopeCue is the result of explicit scope-marker resolution for one turn.
type ScopeCue struct {
	Scope      Scope
	SourceKind SourceKind
	Stripped   string // residual text with the cue removed
	Instance   string // named-surface words ("sales" in "the sales dashboard")

	// TypoToken is set when a token looked like a misspelled scope word.
	// Such cues route to a one-turn replay clarifier, never silently applied.
	TypoToken string
	TypoScope Scope
}

// =============================================================================
// CANDIDATES AND OPTION SETS
// =============================================================================

// CandidateRef is an opaque, bounded, enumerable reference to something the
// user could mean (a panel, option pill, document chunk, ...). Pools of these
// are always finite and always scope-filtered.
type CandidateRef struct {
	ID       string
	Label    string
	Sublabel string
	Type     string
	Scope    Scope
	Hint     string // short human hint forwarded to the advisory call
}

// ActiveOptionSet is the option list currently shown to the user.
// It is wholly replaced (never merged) on registration and expires by a
// small turn-count TTL.
type ActiveOptionSet struct {
	ID            string
	Candidates    []CandidateRef
	Scope         Scope
	CreatedAtTurn int
	Question      string // clarifier question text, empty for plain menus
}

// =============================================================================
// ACTION TRACE
// =============================================================================

// TargetRef names the object an action was committed against.
type TargetRef struct {
	Kind  string
	ID    string
	Label string
}

// ScopeRef pins an action to one surface instance.
type ScopeRef struct {
	Kind       Scope
	InstanceID string
}

// Provenance records which tier authorized an execution.
type Provenance string

const (
	ProvenanceDeterministic  Provenance = "deterministic"
	ProvenanceAdvisory       Provenance = "advisory"
	ProvenanceClarifierReply Provenance = "clarifier_reply"
	ProvenanceResume         Provenance = "resume"
	ProvenanceKnownNoun      Provenance = "known_noun"
)

// ActionOutcome marks whether the execution sink succeeded.
type ActionOutcome string

const (
	OutcomeSuccess ActionOutcome = "success"
	OutcomeFailed  ActionOutcome = "failed"
)

// ActionTraceEntry is one committed (never speculative) action.
type ActionTraceEntry struct {
	TraceID        string
	Seq            int64 // monotonic per session
	TSMs           int64
	ActionType     string
	Target         TargetRef
	Scope          ScopeRef
	Provenance     Provenance
	DedupeKey      string
	ParentTraceID  string
	DeltaHint      string
	UserMeaningful bool
	Outcome        ActionOutcome
}

// =============================================================================
// CONTINUITY STATE
// =============================================================================

// ClarifierType tags the pending clarifier a session is waiting on.
type ClarifierType string

const (
	ClarifierNone        ClarifierType = ""
	ClarifierSelection   ClarifierType = "selection"
	ClarifierExitConfirm ClarifierType = "exit_confirm"
	ClarifierScopeTypo   ClarifierType = "scope_typo"
)

// PendingScopeClarifier is the one-turn replay state for a suspected typo'd
// scope cue. It carries the snapshot fingerprint it was issued against so a
// stale confirmation cannot resolve against drifted candidates.
type PendingScopeClarifier struct {
	Token       string
	Guess       Scope
	Residual    string
	AskedAtTurn int
	Fingerprint string
}

// LoopGuardState tracks one unresolved clarification cycle so identical
// advisory calls and re-derived suggestion orderings are suppressed.
type LoopGuardState struct {
	CycleID             string
	InputShape          string
	EvidenceFingerprint string
	SuggestionOrder     []string // candidate ids in previously shown order
	AdvisoryFired       bool
	Retries             int
}

// ContinuityState is the per-session cross-turn state. It is owned
// exclusively by the session and mutated only by the dispatcher handling
// that session's in-flight turn.
type ContinuityState struct {
	SessionID string
	Turn      int

	LastResolvedAction *ActionTraceEntry
	RecentActionTrace  []ActionTraceEntry // newest-first, bounded
	TraceSeq           int64

	ActiveSet   *ActiveOptionSet
	PausedSet   *ActiveOptionSet
	ActiveScope Scope

	LastAcceptedChoiceID   string
	RecentAcceptedChoices  []string // small fixed window, newest-first
	RecentRejectedChoices  []string
	PendingClarifier       ClarifierType
	PendingScopeClarifier  *PendingScopeClarifier
	Guard                  *LoopGuardState
	LastActivity           time.Time
}

// =============================================================================
// ROUTING DECISION
// =============================================================================

// DecisionOutcome is the tagged variant a turn resolves to.
type DecisionOutcome string

const (
	DecideDeterministicExecute DecisionOutcome = "deterministic_execute"
	DecideAdvisoryExecute      DecisionOutcome = "advisory_execute"
	DecideAdvisoryInfluenced   DecisionOutcome = "advisory_influenced"
	DecideSafeClarifier        DecisionOutcome = "safe_clarifier"
	DecideHandoff              DecisionOutcome = "handoff"
)

// HandoffRequest carries a question-shaped turn to the semantic answer lane.
type HandoffRequest struct {
	Query string
	Topic string
}

// ArbitrationStats summarizes the advisory run behind one decision, for
// telemetry.
type ArbitrationStats struct {
	FingerprintBefore string
	FingerprintAfter  string
	Steps             int
	CallsMade         int
	BudgetRemaining   int
}

// RoutingDecision is produced exactly once per turn and never partially
// applied.
type RoutingDecision struct {
	Outcome           DecisionOutcome
	Tier              string
	ChosenCandidateID string
	ClarifierText     string
	Response          string // acknowledgement, answer, or not-found text
	Handoff           *HandoffRequest

	// Collision is set when deterministic matching found duplicate
	// whole-label hits; collided input never executes.
	Collision bool
	// Arbitration is set when an advisory run backed this decision.
	Arbitration *ArbitrationStats
}
