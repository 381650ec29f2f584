package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wayfind/internal/advisory"
	"wayfind/internal/clarify"
	"wayfind/internal/pool"
	"wayfind/internal/scope"
	"wayfind/internal/session"
	"wayfind/internal/trace"
	"wayfind/internal/types"
)

func TestMain(m *testing.M) {
	// The genai dependency starts an opencensus stats worker at package init
	// that never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// scriptedClient plays canned advisory results, repeating the last one.
type scriptedClient struct {
	results []types.AdvisoryResult
	errs    []error
	calls   int
}

func (s *scriptedClient) Invoke(_ context.Context, _ types.AdvisoryRequest) (types.AdvisoryResult, error) {
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

type fakeExec struct {
	calls []string
	err   error
}

func (f *fakeExec) Execute(_ context.Context, actionType string, target types.CandidateRef) error {
	f.calls = append(f.calls, actionType+":"+target.ID)
	return f.err
}

type fakeRetriever struct {
	result types.RetrievalResult
	err    error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) (types.RetrievalResult, error) {
	return f.result, f.err
}

type harness struct {
	router *Router
	exec   *fakeExec
	client *scriptedClient
	sink   *trace.MemorySink
	sess   *session.Registry
	src    *pool.StaticSource
	pools  *pool.Builder
	deps   Deps
}

func newHarness(t *testing.T, client *scriptedClient, retriever types.Retriever) *harness {
	t.Helper()
	if client == nil {
		client = &scriptedClient{results: []types.AdvisoryResult{{Kind: types.ResultNeedMoreInfo}}}
	}

	src := pool.NewStaticSource()
	src.Add(types.CandidateRef{ID: "w1", Label: "sample1", Type: "panel", Scope: types.ScopeWidget})
	src.Add(types.CandidateRef{ID: "w2", Label: "sample2", Type: "panel", Scope: types.ScopeWidget})
	src.Add(types.CandidateRef{ID: "w3", Label: "sample3", Type: "panel", Scope: types.ScopeWidget})
	src.Add(types.CandidateRef{ID: "wr", Label: "recent files", Type: "panel", Scope: types.ScopeWidget})
	src.Add(types.CandidateRef{ID: "d1", Label: "sample2", Type: "card", Scope: types.ScopeDashboard})
	src.Add(types.CandidateRef{ID: "ws1", Label: "sample1", Type: "tab", Scope: types.ScopeWorkspace})

	pools := pool.NewBuilder(pool.Config{MaxCandidates: 24, GatherTimeout: time.Second})
	for _, sc := range src.Scopes() {
		pools.Register(sc, src)
	}

	sink := trace.NewMemorySink()
	exec := &fakeExec{}
	sessions := session.NewRegistry(session.Config{OptionSetTTLTurns: 3, ChoiceWindow: 5})
	arb := advisory.NewArbitrator(client, pools, advisory.Config{
		CallTimeout:        time.Second,
		MaxEnrichmentSteps: 2,
		MaxCallsPerStep:    1,
	})

	deps := Deps{
		Sessions:     sessions,
		Scopes:       scope.NewResolver(scope.Config{TypoMaxDistance: 2, TypoMinCueLength: 4}),
		Pools:        pools,
		Arbitrator:   arb,
		Clarifier:    clarify.New(clarify.Config{MaxShownOptions: 6}),
		Recorder:     trace.NewRecorder(trace.Config{MaxEntries: 50, DedupeWindowMS: 400}, sink),
		Retriever:    retriever,
		Executor:     exec,
		Sink:         sink,
		DefaultScope: types.ScopeWidget,
	}
	r, err := New(deps)
	require.NoError(t, err)
	return &harness{router: r, exec: exec, client: client, sink: sink, sess: sessions, src: src, pools: pools, deps: deps}
}

func (h *harness) route(t *testing.T, text string) types.RoutingDecision {
	t.Helper()
	d, err := h.router.Route(context.Background(), text, "s1")
	require.NoError(t, err)
	return d
}

func TestRoute_RequiresSessionID(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.router.Route(context.Background(), "open sample2", "")
	assert.Error(t, err)
}

func TestRoute_ExactLabelExecutesDeterministically(t *testing.T) {
	h := newHarness(t, nil, nil)

	d := h.route(t, "open sample2")

	assert.Equal(t, types.DecideDeterministicExecute, d.Outcome)
	assert.Equal(t, TierCommand, d.Tier)
	assert.Equal(t, "w2", d.ChosenCandidateID)
	assert.Equal(t, []string{"open:w2"}, h.exec.calls)
	assert.Equal(t, 0, h.client.calls, "deterministic path must not call advisory")
}

func TestRoute_ConversationalWrapperStillDeterministic(t *testing.T) {
	h := newHarness(t, nil, nil)

	d := h.route(t, "Can you opne the sample2 please?")

	assert.Equal(t, types.DecideDeterministicExecute, d.Outcome)
	assert.Equal(t, "w2", d.ChosenCandidateID)
}

func TestRoute_ScopeCueIsolatesPool(t *testing.T) {
	h := newHarness(t, nil, nil)

	// sample2 exists in both widget and dashboard; the cue pins the pool.
	d := h.route(t, "open sample2 on the dashboard")

	assert.Equal(t, types.DecideDeterministicExecute, d.Outcome)
	assert.Equal(t, "d1", d.ChosenCandidateID)
}

func TestRoute_EmptyScopedPoolIsHonestNo(t *testing.T) {
	h := newHarness(t, nil, nil)

	d := h.route(t, "open sample1 in the chat")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Contains(t, d.Response, "in the chat")
	assert.Empty(t, h.exec.calls, "empty pool must never fall through to another scope")
}

func TestRoute_NearMissNeverExecutes(t *testing.T) {
	h := newHarness(t, nil, nil)

	d := h.route(t, "open sampl2")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Empty(t, h.exec.calls)
	assert.NotEmpty(t, d.ClarifierText)
}

func TestRoute_OrdinalReplySelectsFromShownList(t *testing.T) {
	h := newHarness(t, nil, nil)

	d1 := h.route(t, "open the sample")
	require.Equal(t, types.DecideSafeClarifier, d1.Outcome)
	require.Contains(t, d1.ClarifierText, "sample2")

	d2 := h.route(t, "second option")
	assert.Equal(t, types.DecideDeterministicExecute, d2.Outcome)
	assert.Equal(t, TierClarification, d2.Tier)
	assert.Equal(t, "w2", d2.ChosenCandidateID)
	assert.Equal(t, []string{"open:w2"}, h.exec.calls)
}

func TestRoute_CancelDuringClarificationConfirmsExit(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.route(t, "open the sample")

	d := h.route(t, "cancel")
	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Equal(t, TierInterrupt, d.Tier)
	assert.Contains(t, d.ClarifierText, "stop choosing")
	assert.Contains(t, d.ClarifierText, "sample1", "options stay visible")

	d2 := h.route(t, "yes")
	assert.Equal(t, "Okay, cancelled.", d2.Response)
	assert.Empty(t, h.exec.calls)
}

func TestRoute_ExitConfirmRejectionKeepsList(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.route(t, "open the sample")
	h.route(t, "cancel")

	d := h.route(t, "no")
	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Contains(t, d.ClarifierText, "sample1")

	d2 := h.route(t, "the third one")
	assert.Equal(t, "w3", d2.ChosenCandidateID)
}

func TestRoute_InterposedCommandPausesListAndResumeRestoresIt(t *testing.T) {
	h := newHarness(t, nil, nil)

	d1 := h.route(t, "open the sample")
	require.Equal(t, types.DecideSafeClarifier, d1.Outcome)

	d2 := h.route(t, "open recent files")
	assert.Equal(t, types.DecideDeterministicExecute, d2.Outcome)
	assert.Equal(t, "wr", d2.ChosenCandidateID)

	d3 := h.route(t, "back to the list")
	assert.Equal(t, types.DecideSafeClarifier, d3.Outcome)
	assert.Equal(t, TierResume, d3.Tier)
	assert.Contains(t, d3.ClarifierText, "sample1")

	d4 := h.route(t, "the second one")
	assert.Equal(t, "w2", d4.ChosenCandidateID)
}

func TestRoute_UnresolvedInterposedCommandReshowsStoredList(t *testing.T) {
	client := &scriptedClient{
		results: []types.AdvisoryResult{{}},
		errs:    []error{errors.New("deadline exceeded"), errors.New("deadline exceeded")},
	}
	h := newHarness(t, client, nil)

	d1 := h.route(t, "open the sample")
	require.Equal(t, types.DecideSafeClarifier, d1.Outcome)

	// The snapshot drifts between turns.
	h.src.Add(types.CandidateRef{ID: "w9", Label: "zebra", Type: "panel", Scope: types.ScopeWidget})

	// A command-shaped reply that resolves nothing, with the advisory call
	// failing too, falls back to the options already on screen rather than
	// the drifted pool.
	d2 := h.route(t, "open the zzz thing")
	assert.Equal(t, types.DecideSafeClarifier, d2.Outcome)
	assert.NotContains(t, d2.ClarifierText, "zebra")
	assert.Contains(t, d2.ClarifierText, "1. sample1")
	assert.Contains(t, d2.ClarifierText, "2. sample2")
	assert.Empty(t, h.exec.calls)

	// The re-shown list still answers ordinals.
	d3 := h.route(t, "the second one")
	assert.Equal(t, "w2", d3.ChosenCandidateID)
	assert.Equal(t, []string{"open:w2"}, h.exec.calls)
}

func TestRoute_ScopeTypoNeverSilentlyApplied(t *testing.T) {
	h := newHarness(t, nil, nil)

	d := h.route(t, "open sample1 in the workspac")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Contains(t, d.ClarifierText, "workspace")
	assert.Empty(t, h.exec.calls)

	d2 := h.route(t, "yes")
	assert.Equal(t, types.DecideDeterministicExecute, d2.Outcome)
	assert.Equal(t, "ws1", d2.ChosenCandidateID)
}

func TestRoute_ScopeTypoRejectionAsksForScope(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.route(t, "open sample1 in the workspac")
	d := h.route(t, "no")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Contains(t, d.ClarifierText, "Which surface")
	assert.Empty(t, h.exec.calls)
}

func TestRoute_DoubleSubmitCollapses(t *testing.T) {
	h := newHarness(t, nil, nil)

	d1 := h.route(t, "open sample2")
	d2 := h.route(t, "open sample2")

	assert.Equal(t, d1.ChosenCandidateID, d2.ChosenCandidateID)
	assert.Equal(t, []string{"open:w2"}, h.exec.calls, "second submit within the window must not re-execute")
	assert.Len(t, h.sink.Entries("s1"), 1)
}

func TestRoute_AdvisorySelectExecutes(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultSelect, CandidateID: "w3", Confidence: 0.8},
	}}
	h := newHarness(t, client, nil)

	d := h.route(t, "open the newest sample")

	assert.Equal(t, types.DecideAdvisoryExecute, d.Outcome)
	assert.Equal(t, "w3", d.ChosenCandidateID)
	assert.Equal(t, []string{"open:w3"}, h.exec.calls)
}

func TestRoute_AdvisoryTimeoutReshowsSameOptions(t *testing.T) {
	client := &scriptedClient{
		results: []types.AdvisoryResult{{}},
		errs:    []error{errors.New("deadline exceeded"), errors.New("deadline exceeded")},
	}
	h := newHarness(t, client, nil)

	d1 := h.route(t, "open the sample")
	require.Equal(t, types.DecideSafeClarifier, d1.Outcome)

	// The free-form reply also times out; the loop guard must re-present
	// the same options in the same order, not re-derive them.
	d2 := h.route(t, "the blue one")
	assert.Equal(t, types.DecideSafeClarifier, d2.Outcome)
	assert.Contains(t, d2.ClarifierText, "1. sample1")
	assert.Contains(t, d2.ClarifierText, "2. sample2")
	assert.Contains(t, d2.ClarifierText, "3. sample3")
	assert.Empty(t, h.exec.calls)
}

func TestRoute_EnrichmentCannotCrossScopes(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeDashboard}},
		{Kind: types.ResultSelect, CandidateID: "d1", Confidence: 0.9},
	}}
	h := newHarness(t, client, nil)

	// The advisory asks to refresh the dashboard during a widget-scoped
	// turn. That refresh must be rejected, so the second scripted result,
	// a dashboard selection, is never reachable.
	d := h.route(t, "open the newest sample")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Empty(t, d.ChosenCandidateID)
	assert.Empty(t, h.exec.calls)
	assert.Equal(t, 1, client.calls, "rejected refresh must stop the enrichment loop")
	assert.Contains(t, d.ClarifierText, "sample1")
}

func TestRoute_ClarifierReplyBindsOnlyStoredOptions(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo},
		{Kind: types.ResultSelect, CandidateID: "d1", Confidence: 0.9},
	}}
	h := newHarness(t, client, nil)

	d1 := h.route(t, "open the sample")
	require.Equal(t, types.DecideSafeClarifier, d1.Outcome)

	// The reply's advisory picks an id from another scope's pool. The id is
	// not among the stored options, so the turn demotes to a re-shown
	// question instead of executing.
	d2 := h.route(t, "the blue one")
	assert.Equal(t, types.DecideSafeClarifier, d2.Outcome)
	assert.Empty(t, d2.ChosenCandidateID)
	assert.Empty(t, h.exec.calls)
	assert.Contains(t, d2.ClarifierText, "1. sample1")
}

func TestRoute_ClarifierReplyViaAdvisoryIsInfluenced(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo},
		{Kind: types.ResultSelect, CandidateID: "w1", Confidence: 0.7},
	}}
	h := newHarness(t, client, nil)

	h.route(t, "open the sample")
	d := h.route(t, "the one from this morning")

	assert.Equal(t, types.DecideAdvisoryInfluenced, d.Outcome)
	assert.Equal(t, "w1", d.ChosenCandidateID)
}

func TestRoute_KnownNounExecutes(t *testing.T) {
	h := newHarness(t, nil, nil)

	d := h.route(t, "sample3")

	assert.Equal(t, types.DecideDeterministicExecute, d.Outcome)
	assert.Equal(t, TierKnownNoun, d.Tier)
	assert.Equal(t, "w3", d.ChosenCandidateID)
}

func TestRoute_QuestionGoesToDocs(t *testing.T) {
	retr := &fakeRetriever{result: types.RetrievalResult{
		Status:  types.RetrievalFound,
		Results: []types.DocResult{{ID: "doc1", Title: "Widgets", Snippet: "A widget is a panel."}},
	}}
	h := newHarness(t, nil, retr)

	d := h.route(t, "what is a widget?")

	assert.Equal(t, types.DecideHandoff, d.Outcome)
	assert.Equal(t, TierDocs, d.Tier)
	assert.Contains(t, d.Response, "A widget is a panel.")
	require.NotNil(t, d.Handoff)
	assert.Equal(t, "widget", d.Handoff.Topic)
	assert.Empty(t, h.exec.calls)
}

func TestRoute_AmbiguousRetrievalClarifies(t *testing.T) {
	retr := &fakeRetriever{result: types.RetrievalResult{
		Status:        types.RetrievalAmbiguous,
		Clarification: "Did you mean widgets or dashboards?",
	}}
	h := newHarness(t, nil, retr)

	d := h.route(t, "what is a widget?")
	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Equal(t, "Did you mean widgets or dashboards?", d.ClarifierText)
}

func TestRoute_RejectionClearsPendingList(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.route(t, "open the sample")
	d := h.route(t, "no")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Contains(t, d.Response, "instead")

	// The list is gone: an ordinal now has nothing to bind to.
	d2 := h.route(t, "the second one")
	assert.NotEqual(t, types.DecideDeterministicExecute, d2.Outcome)
}

func TestRoute_FailedExecutionSurfacesHonestly(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.exec.err = errors.New("panel is gone")

	d := h.route(t, "open sample2")

	assert.Contains(t, d.Response, "couldn't")
	entries := h.sink.Entries("s1")
	require.Len(t, entries, 1)
	assert.Equal(t, types.OutcomeFailed, entries[0].Outcome)
}

func TestRoute_SessionsAreIndependent(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.route(t, "open the sample")

	d, err := h.router.Route(context.Background(), "the second one", "s2")
	require.NoError(t, err)
	assert.NotEqual(t, types.DecideDeterministicExecute, d.Outcome, "s2 must not see s1's option set")
}

func TestContinuityForReflectsRoutedTurns(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, ok := h.router.ContinuityFor("s1")
	assert.False(t, ok, "unseen session must not exist")

	h.route(t, "open sample2")

	st, ok := h.router.ContinuityFor("s1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Turn)
	assert.Equal(t, "w2", st.LastAcceptedChoiceID)
}

func TestRoute_LabelCollisionNeverExecutes(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.src.Add(types.CandidateRef{ID: "w2b", Label: "sample2", Type: "panel", Scope: types.ScopeWidget})

	d := h.route(t, "open sample2")

	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.True(t, d.Collision)
	assert.Empty(t, h.exec.calls)

	decisions := h.sink.Decisions()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Collision)
}

// recordingSource captures the instance ids the pool builder asks for.
type recordingSource struct {
	mu        sync.Mutex
	instances []string
}

func (r *recordingSource) VisibleCandidates(_ context.Context, _ types.Scope, instanceID string) ([]types.CandidateRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = append(r.instances, instanceID)
	return nil, nil
}

func TestRoute_NamedCuePassesInstanceToSnapshots(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec := &recordingSource{}
	h.pools.Register(types.ScopeDashboard, rec)

	d := h.route(t, "open sample2 from the sales dashboard")

	assert.Equal(t, types.DecideDeterministicExecute, d.Outcome)
	assert.Equal(t, "d1", d.ChosenCandidateID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.instances)
	assert.Equal(t, "sales", rec.instances[0])
}

func TestRoute_StaleActionIsNotResumed(t *testing.T) {
	h := newHarness(t, nil, nil)
	deps := h.deps
	deps.ResumeWindow = time.Millisecond
	r, err := New(deps)
	require.NoError(t, err)

	route := func(text string) types.RoutingDecision {
		d, rerr := r.Route(context.Background(), text, "s1")
		require.NoError(t, rerr)
		return d
	}

	route("open sample2")
	route("open sample3")
	time.Sleep(5 * time.Millisecond)

	d := route("go back")
	assert.Equal(t, types.DecideSafeClarifier, d.Outcome)
	assert.Contains(t, d.Response, "nothing to go back to")
	assert.Equal(t, []string{"open:w2", "open:w3"}, h.exec.calls, "a stale action must not be replayed")
}

func TestRoute_DecisionTelemetryEmitted(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.route(t, "open sample2")

	decisions := h.sink.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, "s1", decisions[0].SessionID)
	assert.Equal(t, TierCommand, decisions[0].Tier)
	assert.Equal(t, types.DecideDeterministicExecute, decisions[0].Outcome)
}

func TestRoute_DecisionTelemetryCarriesArbitration(t *testing.T) {
	client := &scriptedClient{results: []types.AdvisoryResult{
		{Kind: types.ResultNeedMoreInfo, Evidence: &types.EvidenceRequest{Kind: "refresh_snapshot", Scope: types.ScopeWidget}},
	}}
	h := newHarness(t, client, nil)

	// One enrichment step runs, the refreshed snapshot is unchanged, and the
	// loop stops. The decision row carries the run's budget and fingerprints.
	h.route(t, "open the newest sample")

	decisions := h.sink.Decisions()
	require.Len(t, decisions, 1)
	ev := decisions[0]
	assert.Equal(t, 1, ev.RetryBudgetRemaining)
	assert.NotEmpty(t, ev.FingerprintBefore)
	assert.Equal(t, ev.FingerprintBefore, ev.FingerprintAfter)
	assert.NotEmpty(t, ev.LoopCycleID)
	assert.False(t, ev.Collision)
}
