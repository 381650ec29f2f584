package clarify

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/google/uuid"

	"wayfind/internal/types"
)

// InputShape reduces an utterance to the shape key the loop guard matches
// on. Two turns with the same shape inside one cycle count as a repeat.
func InputShape(kind types.IntentKind, residual string) string {
	h := sha1.Sum([]byte(string(kind) + "\x1f" + residual))
	return hex.EncodeToString(h[:8])
}

// EnterCycle returns the guard for the current unresolved cycle, starting a
// new one when none exists or the input shape changed. A shape change means
// the user said something new, so suppression state resets.
func EnterCycle(state *types.ContinuityState, kind types.IntentKind, residual string) *types.LoopGuardState {
	shape := InputShape(kind, residual)
	if state.Guard != nil && state.Guard.InputShape == shape {
		return state.Guard
	}
	state.Guard = &types.LoopGuardState{
		CycleID:    uuid.NewString(),
		InputShape: shape,
	}
	return state.Guard
}

// ExitCycle clears the guard. Called when a turn resolves to an execution
// or the clarification context is abandoned.
func ExitCycle(state *types.ContinuityState) {
	state.Guard = nil
}

// ShouldReshow reports whether the guard has already shown a suggestion
// list this cycle, meaning a retry must re-present the stored order rather
// than derive a fresh one.
func ShouldReshow(guard *types.LoopGuardState) bool {
	return guard != nil && len(guard.SuggestionOrder) > 0
}

// RecordShown stores the display order just presented to the user.
func RecordShown(guard *types.LoopGuardState, shown []types.CandidateRef) {
	if guard == nil {
		return
	}
	guard.SuggestionOrder = IDs(shown)
}
