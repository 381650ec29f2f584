package advisory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// Refresher performs the single allow-listed enrichment action: re-reading a
// snapshot for the same scope. The pool builder implements it.
type Refresher interface {
	Refresh(ctx context.Context, ev types.EvidenceRequest) ([]types.CandidateRef, error)
}

// Config bounds the arbitrator. Budgets are small fixed constants so the
// enrichment loop is provably terminating.
type Config struct {
	CallTimeout        time.Duration
	MaxEnrichmentSteps int
	MaxCallsPerStep    int
}

// Arbitrator runs bounded advisory calls with the enrichment loop.
type Arbitrator struct {
	client    types.AdvisoryClient
	refresher Refresher
	cfg       Config
}

// NewArbitrator wires an arbitrator. refresher may be nil, which disables
// enrichment entirely (every need_more_info falls straight to the clarifier).
func NewArbitrator(client types.AdvisoryClient, refresher Refresher, cfg Config) *Arbitrator {
	if cfg.MaxCallsPerStep <= 0 {
		cfg.MaxCallsPerStep = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	return &Arbitrator{client: client, refresher: refresher, cfg: cfg}
}

// Outcome is one arbitration run's full result, including the telemetry
// fields the dispatcher reports.
type Outcome struct {
	Result            types.AdvisoryResult
	Pool              []types.CandidateRef // pool the result is valid against
	Steps             int
	CallsMade         int
	FingerprintBefore string
	FingerprintAfter  string
	BudgetRemaining   int
}

// Run executes the arbitration state machine for selection or clarifier-reply
// mode. scopeKind is the scope the pool was built for; enrichment never
// crosses it. guard must be the session's loop-guard state for the current
// unresolved cycle; Run updates it. Transport failure and timeout are
// treated exactly like need_more_info: they can only route to enrichment or
// the clarifier, never execute and never vanish.
func (a *Arbitrator) Run(ctx context.Context, mode types.AdvisoryMode, residual string, pool []types.CandidateRef, scopeKind types.Scope, question string, guard *types.LoopGuardState) Outcome {
	timer := logging.StartTimer(logging.CategoryAdvisory, "Arbitrator.Run")
	defer timer.Stop()

	fp := Fingerprint(residual, pool)
	out := Outcome{
		Pool:              pool,
		FingerprintBefore: fp,
		FingerprintAfter:  fp,
		BudgetRemaining:   a.cfg.MaxEnrichmentSteps,
	}

	// Loop guard: a second consecutive advisory call on unchanged evidence
	// within the same cycle is suppressed outright.
	if guard != nil && guard.AdvisoryFired && guard.EvidenceFingerprint == fp {
		logging.Advisory("loop guard suppressed advisory call: cycle=%s", guard.CycleID)
		out.Result = types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
		return out
	}

	for {
		res := a.invokeOnce(ctx, mode, residual, pool, question, &out)
		if guard != nil {
			guard.AdvisoryFired = true
			guard.EvidenceFingerprint = fp
			guard.Retries++
		}

		switch res.Kind {
		case types.ResultSelect:
			// Unconditional post-call check: the id must belong to the exact
			// pool supplied in the request. This is the execution authority
			// gate; everything upstream is advice.
			if !poolContains(pool, res.CandidateID) {
				logging.Get(logging.CategoryAdvisory).Warn("advisory selected id %q outside the supplied pool, demoting to need_more_info", res.CandidateID)
				out.Result = types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
				return out
			}
			out.Result = res
			out.Pool = pool
			return out

		case types.ResultAnswer:
			out.Result = res
			return out
		}

		// need_more_info: enrichment is possible only in selection mode, with
		// a structured request, a refresher, and remaining budget.
		// Clarifier-reply mode resolves against the stored candidates of the
		// prior question, so its pool is never rebuilt.
		if mode == types.ModeClarifierReply || res.Evidence == nil || a.refresher == nil || out.Steps >= a.cfg.MaxEnrichmentSteps {
			out.Result = types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
			return out
		}

		// The evidence request is model-supplied advice. A refresh naming any
		// scope other than the one under arbitration would swap the pool the
		// user addressed, so it is rejected, not followed.
		if res.Evidence.Scope != scopeKind {
			logging.Get(logging.CategoryAdvisory).Warn("advisory asked to refresh scope %s during a %s-scoped turn, demoting to need_more_info", res.Evidence.Scope, scopeKind)
			out.Result = types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
			return out
		}

		newPool, err := a.refresher.Refresh(ctx, *res.Evidence)
		if err != nil {
			logging.Get(logging.CategoryAdvisory).Warn("enrichment refresh failed: %v", err)
			out.Result = types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
			return out
		}
		out.Steps++
		out.BudgetRemaining = a.cfg.MaxEnrichmentSteps - out.Steps

		newFP := Fingerprint(residual, newPool)
		if newFP == fp {
			// Nothing changed: stop retrying.
			logging.AdvisoryDebug("evidence fingerprint unchanged after refresh, stopping")
			out.Result = types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
			return out
		}
		pool = newPool
		fp = newFP
		out.Pool = pool
		out.FingerprintAfter = fp
	}
}

// Answer runs one answer-mode call. Answer mode never executes, so no guard
// or enrichment applies; failure degrades to an empty result.
func (a *Arbitrator) Answer(ctx context.Context, question string) (string, bool) {
	req := types.AdvisoryRequest{
		Mode:     types.ModeAnswer,
		Residual: question,
		Timeout:  a.cfg.CallTimeout,
	}
	res, err := a.client.Invoke(ctx, req)
	if err != nil || res.Kind != types.ResultAnswer || res.Answer == "" {
		return "", false
	}
	return res.Answer, true
}

// invokeOnce performs up to MaxCallsPerStep attempts of one advisory call.
// Every failure path collapses to need_more_info.
func (a *Arbitrator) invokeOnce(ctx context.Context, mode types.AdvisoryMode, residual string, pool []types.CandidateRef, question string, out *Outcome) types.AdvisoryResult {
	req := types.AdvisoryRequest{
		Mode:              mode,
		Residual:          residual,
		Candidates:        pool,
		ClarifierQuestion: question,
		Timeout:           a.cfg.CallTimeout,
	}

	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxCallsPerStep; attempt++ {
		if ctx.Err() != nil {
			break
		}
		out.CallsMade++
		res, err := a.client.Invoke(ctx, req)
		if err == nil {
			return res
		}
		lastErr = err
	}
	if lastErr != nil {
		logging.Get(logging.CategoryAdvisory).Warn("advisory call failed, treating as need_more_info: %v", lastErr)
	}
	return types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
}

// Fingerprint hashes the evidence available to one arbitration step. An
// unchanged fingerprint means another call would see the same world.
func Fingerprint(residual string, pool []types.CandidateRef) string {
	keys := make([]string, 0, len(pool))
	for _, c := range pool {
		keys = append(keys, c.ID+"\x1f"+c.Label+"\x1f"+string(c.Scope))
	}
	sort.Strings(keys)

	h := sha1.New()
	h.Write([]byte(residual))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(keys, "\x1e")))
	return hex.EncodeToString(h.Sum(nil))
}

func poolContains(pool []types.CandidateRef, id string) bool {
	for _, c := range pool {
		if c.ID == id {
			return true
		}
	}
	return false
}
