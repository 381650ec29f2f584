// Package clarify builds the safe-clarifier questions and runs the loop
// guard. The clarifier is the terminal fallback of every routing chain: it
// never executes anything, it only asks, and it packs everything it needs
// into one combined question so the user is never interrogated slot by slot.
package clarify

import (
	"fmt"
	"strings"

	"wayfind/internal/types"
)

// Config bounds clarifier output.
type Config struct {
	MaxShownOptions int
}

// Clarifier composes clarification questions from candidate pools and
// pending session state.
type Clarifier struct {
	cfg Config
}

func New(cfg Config) *Clarifier {
	if cfg.MaxShownOptions <= 0 {
		cfg.MaxShownOptions = 6
	}
	return &Clarifier{cfg: cfg}
}

// Ask builds one combined selection question over pool. order, when non-nil,
// fixes the display order to a previously shown one so a retry re-presents
// the same list instead of re-deriving it. The shown set becomes the new
// active option set; the returned candidates are exactly the shown ones.
func (c *Clarifier) Ask(residual string, pool []types.CandidateRef, order []string) (question string, shown []types.CandidateRef) {
	shown = c.arrange(pool, order)

	var b strings.Builder
	if len(shown) == 0 {
		if residual != "" {
			fmt.Fprintf(&b, "I couldn't find anything matching %q here. Could you say which one you mean?", residual)
		} else {
			b.WriteString("Could you say which one you mean?")
		}
		return b.String(), nil
	}

	if residual != "" {
		fmt.Fprintf(&b, "Which one do you mean by %q?", residual)
	} else {
		b.WriteString("Which one do you mean?")
	}
	for i, cand := range shown {
		fmt.Fprintf(&b, "\n%d. %s", i+1, cand.Label)
		if cand.Sublabel != "" {
			fmt.Fprintf(&b, " (%s)", cand.Sublabel)
		}
	}
	if len(pool) > len(shown) {
		fmt.Fprintf(&b, "\n(%d more not shown)", len(pool)-len(shown))
	}
	b.WriteString("\nYou can answer with a number or the exact name.")
	return b.String(), shown
}

// AskScopeReplay builds the one-turn replay question for a suspected
// misspelled scope cue. A typo'd cue is never silently applied.
func (c *Clarifier) AskScopeReplay(p *types.PendingScopeClarifier) string {
	return fmt.Sprintf("Did you mean the %s? I'll run %q there if so.", p.Guess, strings.TrimSpace(p.Residual))
}

// AskExitConfirm builds the confirm-exit question shown when an exit-shaped
// word arrives while a clarification is pending. The pending options stay
// visible so the user can still pick one instead.
func (c *Clarifier) AskExitConfirm(set *types.ActiveOptionSet) string {
	var b strings.Builder
	b.WriteString("Do you want to stop choosing? Say \"yes\" to cancel, or pick one of:")
	shown := c.arrange(set.Candidates, nil)
	for i, cand := range shown {
		fmt.Fprintf(&b, "\n%d. %s", i+1, cand.Label)
	}
	return b.String()
}

// NotFound builds the honest no-match response for an empty scoped pool.
// An empty pool in the addressed scope never falls through to another scope.
func (c *Clarifier) NotFound(residual string, scope types.Scope) string {
	where := "here"
	if scope != types.ScopeNone && scope != "" {
		where = "in the " + string(scope)
	}
	if residual == "" {
		return fmt.Sprintf("I don't see anything to act on %s right now.", where)
	}
	return fmt.Sprintf("I don't see %q %s.", residual, where)
}

// arrange applies a fixed prior order when given one, then caps the list.
func (c *Clarifier) arrange(pool []types.CandidateRef, order []string) []types.CandidateRef {
	out := pool
	if len(order) > 0 {
		byID := make(map[string]types.CandidateRef, len(pool))
		for _, cand := range pool {
			byID[cand.ID] = cand
		}
		ordered := make([]types.CandidateRef, 0, len(pool))
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			if cand, ok := byID[id]; ok {
				ordered = append(ordered, cand)
				seen[id] = true
			}
		}
		// Newly appeared candidates go after the remembered ones.
		for _, cand := range pool {
			if !seen[cand.ID] {
				ordered = append(ordered, cand)
			}
		}
		out = ordered
	}
	if len(out) > c.cfg.MaxShownOptions {
		out = out[:c.cfg.MaxShownOptions]
	}
	return out
}

// IDs extracts candidate ids in display order, for storing as the guard's
// suggestion order.
func IDs(cands []types.CandidateRef) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}
