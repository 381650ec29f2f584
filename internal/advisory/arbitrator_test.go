package advisory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfind/internal/types"
)

// scriptedClient returns canned results in order, then repeats the last one.
type scriptedClient struct {
	results []types.AdvisoryResult
	errs    []error
	calls   int
	lastReq types.AdvisoryRequest
}

func (s *scriptedClient) Invoke(_ context.Context, req types.AdvisoryRequest) (types.AdvisoryResult, error) {
	s.lastReq = req
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

type scriptedRefresher struct {
	pools [][]types.CandidateRef
	calls int
	err   error
}

func (s *scriptedRefresher) Refresh(_ context.Context, _ types.EvidenceRequest) ([]types.CandidateRef, error) {
	i := s.calls
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if i >= len(s.pools) {
		i = len(s.pools) - 1
	}
	return s.pools[i], nil
}

func testPool() []types.CandidateRef {
	return []types.CandidateRef{
		{ID: "w1", Label: "sample1", Scope: types.ScopeWidget},
		{ID: "w2", Label: "sample2", Scope: types.ScopeWidget},
	}
}

func testCfg() Config {
	return Config{CallTimeout: time.Second, MaxEnrichmentSteps: 2, MaxCallsPerStep: 1}
}

func TestRun_SelectInsidePool(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultSelect, CandidateID: "w2", Confidence: 0.9},
	}}
	arb := NewArbitrator(client, nil, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "the second sample", testPool(), types.ScopeWidget, "", nil)

	require.Equal(t, types.ResultSelect, out.Result.Kind)
	assert.Equal(t, "w2", out.Result.CandidateID)
	assert.Equal(t, 1, out.CallsMade)
	assert.Equal(t, 0, out.Steps)
}

func TestRun_SelectOutsidePoolDemoted(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultSelect, CandidateID: "ghost", Confidence: 0.99},
	}}
	arb := NewArbitrator(client, nil, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "open it", testPool(), types.ScopeWidget, "", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
}

func TestRun_TransportErrorIsNeedMoreInfo(t *testing.T) {
	client := &scriptedClient{
		results: []types.AdvisoryResult{{}},
		errs:    []error{errors.New("deadline exceeded")},
	}
	arb := NewArbitrator(client, nil, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "open it", testPool(), types.ScopeWidget, "", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
	assert.Equal(t, 1, out.CallsMade)
}

func TestRun_EnrichmentThenSelect(t *testing.T) {
	ev := &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeWidget}
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: ev},
		{Kind: types.ResultSelect, CandidateID: "w3"},
	}}
	refreshed := append(testPool(), types.CandidateRef{ID: "w3", Label: "sample3", Scope: types.ScopeWidget})
	refresher := &scriptedRefresher{pools: [][]types.CandidateRef{refreshed}}
	arb := NewArbitrator(client, refresher, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "the newest one", testPool(), types.ScopeWidget, "", nil)

	require.Equal(t, types.ResultSelect, out.Result.Kind)
	assert.Equal(t, "w3", out.Result.CandidateID)
	assert.Equal(t, 1, out.Steps)
	assert.Equal(t, 2, out.CallsMade)
	assert.Len(t, out.Pool, 3)
	assert.NotEqual(t, out.FingerprintBefore, out.FingerprintAfter)
}

func TestRun_UnchangedFingerprintStops(t *testing.T) {
	ev := &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeWidget}
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: ev},
	}}
	// Refresh returns the same pool, so the fingerprint cannot change.
	refresher := &scriptedRefresher{pools: [][]types.CandidateRef{testPool()}}
	arb := NewArbitrator(client, refresher, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "that one", testPool(), types.ScopeWidget, "", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
	assert.Equal(t, 1, out.CallsMade)
	assert.Equal(t, 1, refresher.calls)
}

func TestRun_StepBudgetBounds(t *testing.T) {
	ev := &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeWidget}
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: ev},
	}}
	// Each refresh yields a distinct pool so the fingerprint keeps changing;
	// only the step budget can stop the loop.
	refresher := &scriptedRefresher{pools: [][]types.CandidateRef{
		{{ID: "a", Label: "a", Scope: types.ScopeWidget}},
		{{ID: "b", Label: "b", Scope: types.ScopeWidget}},
		{{ID: "c", Label: "c", Scope: types.ScopeWidget}},
		{{ID: "d", Label: "d", Scope: types.ScopeWidget}},
	}}
	arb := NewArbitrator(client, refresher, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "that one", testPool(), types.ScopeWidget, "", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
	assert.Equal(t, 2, out.Steps)
	assert.Equal(t, 0, out.BudgetRemaining)
	assert.LessOrEqual(t, out.CallsMade, 3)
}

func TestRun_CrossScopeEvidenceRejected(t *testing.T) {
	// The model asks to refresh a scope the user never addressed, then tries
	// to select from it. The refresh must never happen and the select from
	// the foreign pool must never reach the caller.
	ev := &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeDashboard}
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: ev},
		{Kind: types.ResultSelect, CandidateID: "d1"},
	}}
	refresher := &scriptedRefresher{pools: [][]types.CandidateRef{
		{{ID: "d1", Label: "sample2", Scope: types.ScopeDashboard}},
	}}
	arb := NewArbitrator(client, refresher, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "the sample", testPool(), types.ScopeWidget, "", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
	assert.Equal(t, 0, refresher.calls, "cross-scope refresh must not run")
	assert.Equal(t, 1, client.calls)
	assert.Len(t, out.Pool, 2, "pool must stay the one supplied")
}

func TestRun_ClarifierReplyNeverEnriches(t *testing.T) {
	// Replies resolve against the stored candidates of the prior question.
	// Even a same-scope refresh request is ignored in clarifier-reply mode.
	ev := &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeWidget}
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: ev},
	}}
	refresher := &scriptedRefresher{pools: [][]types.CandidateRef{
		append(testPool(), types.CandidateRef{ID: "w3", Label: "sample3", Scope: types.ScopeWidget}),
	}}
	arb := NewArbitrator(client, refresher, testCfg())

	out := arb.Run(context.Background(), types.ModeClarifierReply, "the blue one", testPool(), types.ScopeWidget, "Which sample?", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
	assert.Equal(t, 0, refresher.calls)
	assert.Len(t, out.Pool, 2)
}

func TestRun_NoEvidenceNoRetry(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo},
	}}
	refresher := &scriptedRefresher{pools: [][]types.CandidateRef{testPool()}}
	arb := NewArbitrator(client, refresher, testCfg())

	out := arb.Run(context.Background(), types.ModeSelection, "hm", testPool(), types.ScopeWidget, "", nil)

	assert.Equal(t, types.ResultNeedMoreInfo, out.Result.Kind)
	assert.Equal(t, 0, refresher.calls)
}

func TestRun_GuardSuppressesRepeatCall(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo},
	}}
	arb := NewArbitrator(client, nil, testCfg())
	pool := testPool()
	guard := &types.LoopGuardState{CycleID: "c1"}

	out1 := arb.Run(context.Background(), types.ModeSelection, "that", pool, types.ScopeWidget, "", guard)
	assert.Equal(t, 1, client.calls)
	assert.True(t, guard.AdvisoryFired)

	// Same residual, same pool: the second run must not reach the client.
	out2 := arb.Run(context.Background(), types.ModeSelection, "that", pool, types.ScopeWidget, "", guard)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, types.ResultNeedMoreInfo, out2.Result.Kind)
	assert.Equal(t, out1.FingerprintBefore, out2.FingerprintBefore)
}

func TestRun_GuardAllowsCallOnNewEvidence(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultSelect, CandidateID: "w1"},
	}}
	arb := NewArbitrator(client, nil, testCfg())
	guard := &types.LoopGuardState{
		CycleID:             "c1",
		AdvisoryFired:       true,
		EvidenceFingerprint: Fingerprint("old residual", testPool()),
	}

	out := arb.Run(context.Background(), types.ModeSelection, "the first one", testPool(), types.ScopeWidget, "", guard)

	assert.Equal(t, types.ResultSelect, out.Result.Kind)
	assert.Equal(t, 1, client.calls)
}

func TestRun_ClarifierReplyCarriesQuestion(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultSelect, CandidateID: "w1"},
	}}
	arb := NewArbitrator(client, nil, testCfg())

	arb.Run(context.Background(), types.ModeClarifierReply, "the left one", testPool(), types.ScopeWidget, "Which sample: sample1 or sample2?", nil)

	assert.Equal(t, types.ModeClarifierReply, client.lastReq.Mode)
	assert.Equal(t, "Which sample: sample1 or sample2?", client.lastReq.ClarifierQuestion)
}

func TestAnswer(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultAnswer, Answer: "A widget is a small panel."},
	}}
	arb := NewArbitrator(client, nil, testCfg())

	text, ok := arb.Answer(context.Background(), "what is a widget")
	require.True(t, ok)
	assert.Equal(t, "A widget is a small panel.", text)
}

func TestAnswer_FailureDegrades(t *testing.T) {
	client := &scriptedClient{
		results: []types.AdvisoryResult{{}},
		errs:    []error{errors.New("boom")},
	}
	arb := NewArbitrator(client, nil, testCfg())

	_, ok := arb.Answer(context.Background(), "what is a widget")
	assert.False(t, ok)
}

func TestFingerprint_OrderInsensitive(t *testing.T) {
	a := []types.CandidateRef{
		{ID: "1", Label: "x", Scope: types.ScopeWidget},
		{ID: "2", Label: "y", Scope: types.ScopeWidget},
	}
	b := []types.CandidateRef{a[1], a[0]}
	assert.Equal(t, Fingerprint("r", a), Fingerprint("r", b))
	assert.NotEqual(t, Fingerprint("r", a), Fingerprint("other", a))
	assert.NotEqual(t, Fingerprint("r", a), Fingerprint("r", a[:1]))
}
