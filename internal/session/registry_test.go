package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfind/internal/types"
)

func testCfg() Config {
	return Config{OptionSetTTLTurns: 3, ChoiceWindow: 2, IdleEviction: time.Minute}
}

func cands(ids ...string) []types.CandidateRef {
	out := make([]types.CandidateRef, len(ids))
	for i, id := range ids {
		out[i] = types.CandidateRef{ID: id, Label: id, Scope: types.ScopeWidget}
	}
	return out
}

func TestAcquire_SerializesTurns(t *testing.T) {
	r := NewRegistry(testCfg())

	var order []int
	var wg sync.WaitGroup
	s1, release := r.Acquire("s1")
	_ = s1

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, rel := r.Acquire("s1")
		order = append(order, 2)
		rel()
	}()

	time.Sleep(20 * time.Millisecond)
	order = append(order, 1)
	release()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterOptionSet_ReplacesWholly(t *testing.T) {
	s := &Session{cfg: testCfg()}
	s.BeginTurn()

	s.RegisterOptionSet(cands("a", "b"), types.ScopeWidget, "which?")
	require.NotNil(t, s.State.ActiveSet)
	assert.Equal(t, types.ClarifierSelection, s.State.PendingClarifier)

	old := s.State.ActiveSet.ID
	s.RegisterOptionSet(cands("c"), types.ScopeDashboard, "")

	assert.NotEqual(t, old, s.State.ActiveSet.ID)
	assert.Equal(t, cands("c"), s.State.ActiveSet.Candidates)
	assert.Equal(t, types.ScopeDashboard, s.State.ActiveScope)
	assert.Equal(t, types.ClarifierNone, s.State.PendingClarifier)
}

func TestBeginTurn_OptionSetTTL(t *testing.T) {
	s := &Session{cfg: testCfg()}
	s.BeginTurn()
	s.RegisterOptionSet(cands("a"), types.ScopeWidget, "which?")

	for i := 0; i < 3; i++ {
		s.BeginTurn()
		require.NotNil(t, s.State.ActiveSet, "turn %d", s.State.Turn)
	}
	s.BeginTurn()
	assert.Nil(t, s.State.ActiveSet)
	assert.Equal(t, types.ClarifierNone, s.State.PendingClarifier)
}

func TestBeginTurn_ScopeReplayLivesOneTurn(t *testing.T) {
	s := &Session{cfg: testCfg()}
	s.BeginTurn()
	s.State.PendingScopeClarifier = &types.PendingScopeClarifier{Token: "dashbord", AskedAtTurn: s.State.Turn}
	s.State.PendingClarifier = types.ClarifierScopeTypo

	s.BeginTurn()
	require.NotNil(t, s.State.PendingScopeClarifier)

	s.BeginTurn()
	assert.Nil(t, s.State.PendingScopeClarifier)
	assert.Equal(t, types.ClarifierNone, s.State.PendingClarifier)
}

func TestPauseAndResume(t *testing.T) {
	s := &Session{cfg: testCfg()}
	s.BeginTurn()
	s.RegisterOptionSet(cands("a", "b"), types.ScopeWidget, "which?")
	setID := s.State.ActiveSet.ID

	s.PauseActive()
	assert.Nil(t, s.State.ActiveSet)
	assert.Equal(t, types.ClarifierNone, s.State.PendingClarifier)
	require.NotNil(t, s.State.PausedSet)

	s.BeginTurn()
	s.BeginTurn()
	resumed := s.ResumeActive()
	require.NotNil(t, resumed)
	assert.Equal(t, setID, resumed.ID)
	assert.Equal(t, s.State.Turn, resumed.CreatedAtTurn)
	assert.Equal(t, types.ClarifierSelection, s.State.PendingClarifier)
	assert.Nil(t, s.ResumeActive())
}

func TestChoiceWindows(t *testing.T) {
	s := &Session{cfg: testCfg()}

	s.RecordAccepted("a")
	s.RecordAccepted("b")
	s.RecordAccepted("c")
	assert.Equal(t, "c", s.State.LastAcceptedChoiceID)
	assert.Equal(t, []string{"c", "b"}, s.State.RecentAcceptedChoices)

	s.RecordRejected("x")
	assert.True(t, s.RecentlyRejected("x"))
	assert.False(t, s.RecentlyRejected("y"))
	s.RecordRejected("y")
	s.RecordRejected("z")
	assert.False(t, s.RecentlyRejected("x"))
}

func TestPeek(t *testing.T) {
	r := NewRegistry(testCfg())

	_, ok := r.Peek("ghost")
	assert.False(t, ok)

	s, rel := r.Acquire("s1")
	s.BeginTurn()
	s.RecordAccepted("c1")
	rel()

	st, ok := r.Peek("s1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Turn)
	assert.Equal(t, "c1", st.LastAcceptedChoiceID)
}

func TestEvictIdle(t *testing.T) {
	r := NewRegistry(testCfg())
	now := time.Now()
	r.now = func() time.Time { return now }

	_, rel := r.Acquire("old")
	rel()
	now = now.Add(2 * time.Minute)
	_, rel = r.Acquire("fresh")
	rel()

	assert.Equal(t, 1, r.EvictIdle())
	assert.Equal(t, 1, r.Len())
}
