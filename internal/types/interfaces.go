package types

import (
	"context"
	"time"
)

// SnapshotSource exposes the visible candidates of one surface. Implementors
// must return a finite, already-deduplicated list. Reads are synchronous and
// only need to be internally consistent within one turn's decision.
type SnapshotSource interface {
	VisibleCandidates(ctx context.Context, scope Scope, instanceID string) ([]CandidateRef, error)
}

// =============================================================================
// ADVISORY CALL
// =============================================================================

// AdvisoryMode selects the arbitration contract for one bounded call.
type AdvisoryMode string

const (
	// ModeSelection ranks/chooses among the bounded pool.
	ModeSelection AdvisoryMode = "selection"
	// ModeClarifierReply resolves a reply against the stored question and the
	// stored candidate set of the prior clarifier, never a rebuilt pool.
	ModeClarifierReply AdvisoryMode = "clarifier_reply"
	// ModeAnswer is the explanatory mode. It never executes.
	ModeAnswer AdvisoryMode = "answer"
)

// AdvisoryRequest is the full payload of one bounded advisory call.
type AdvisoryRequest struct {
	Mode              AdvisoryMode
	Residual          string
	Candidates        []CandidateRef
	ClarifierQuestion string // clarifier-reply mode only: literal prior question
	Timeout           time.Duration
}

// AdvisoryResultKind tags what the advisory call returned.
type AdvisoryResultKind string

const (
	ResultSelect       AdvisoryResultKind = "select"
	ResultNeedMoreInfo AdvisoryResultKind = "need_more_info"
	ResultAnswer       AdvisoryResultKind = "answer"
)

// EvidenceRequest is the structured "what would help" attached to a
// need_more_info result. Enrichment may only act on allow-listed kinds and
// never broadens scope.
type EvidenceRequest struct {
	Kind       string // "refresh_snapshot" is the only allow-listed kind
	Scope      Scope
	InstanceID string
}

// AdvisoryResult is the outcome of one advisory call. A select result is
// authorized to execute only after the caller verifies membership in the
// exact pool supplied in the request.
type AdvisoryResult struct {
	Kind        AdvisoryResultKind
	CandidateID string
	Confidence  float64
	Evidence    *EvidenceRequest
	Answer      string
}

// AdvisoryClient is the bounded advisory collaborator. Invoke must honor the
// request timeout and be safely retryable from the caller's perspective.
type AdvisoryClient interface {
	Invoke(ctx context.Context, req AdvisoryRequest) (AdvisoryResult, error)
}

// =============================================================================
// DOCUMENT RETRIEVAL
// =============================================================================

// RetrievalStatus is the document-retrieval collaborator's verdict.
type RetrievalStatus string

const (
	RetrievalFound     RetrievalStatus = "found"
	RetrievalAmbiguous RetrievalStatus = "ambiguous"
	RetrievalWeak      RetrievalStatus = "weak"
	RetrievalNoMatch   RetrievalStatus = "no_match"
)

// DocResult is one retrieved document chunk.
type DocResult struct {
	ID      string
	Title   string
	Snippet string
}

// RetrievalResult is the collaborator response consumed at the docs tier.
type RetrievalResult struct {
	Status        RetrievalStatus
	Results       []DocResult
	Clarification string
}

// Retriever is the keyword/chunk document-retrieval collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (RetrievalResult, error)
}

// =============================================================================
// EXECUTION AND TELEMETRY SINKS
// =============================================================================

// ExecutionSink performs the actual state mutation for an execute decision.
// The dispatcher calls it only with a candidate drawn from that turn's
// bounded pool.
type ExecutionSink interface {
	Execute(ctx context.Context, actionType string, target CandidateRef) error
}

// DecisionEvent is the routing-decision telemetry row emitted once per turn.
type DecisionEvent struct {
	SessionID            string
	Turn                 int
	Tier                 string
	Outcome              DecisionOutcome
	CandidateCount       int
	Collision            bool
	LoopCycleID          string
	FingerprintBefore    string
	FingerprintAfter     string
	RetryBudgetRemaining int
	TSMs                 int64
}

// TraceSink is the append-only store for trace entries and decision
// telemetry.
type TraceSink interface {
	AppendTrace(sessionID string, entry ActionTraceEntry) error
	AppendDecision(ev DecisionEvent) error
	Close() error
}
