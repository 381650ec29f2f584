// Package match implements the deterministic matcher. Two and only two match
// kinds may authorize execution: whole-string case/space-folded equality with
// a candidate label or sublabel, and a pure ordinal reference resolved
// against the pool's declared order. Everything else, including near-miss
// token subsets and substring hits, is not a match here.
package match

import (
	"strconv"
	"strings"

	"wayfind/internal/types"
)

// Result is the outcome of one deterministic resolution attempt.
type Result struct {
	Candidate *types.CandidateRef
	// Kind is "label", "ordinal", or "" when unresolved.
	Kind string
	// Collision is set when the residual matched more than one candidate
	// label; collided input never executes.
	Collision bool
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
	"6th": 6, "7th": 7, "8th": 8, "9th": 9, "10th": 10,
}

// Resolve attempts strict resolution of the residual text against the pool.
// It never guesses: an empty Result means the advisory/clarifier path owns
// the turn.
func Resolve(residual string, pool []types.CandidateRef) Result {
	folded := Fold(residual)
	if folded == "" || len(pool) == 0 {
		return Result{}
	}

	if n, ok := PureOrdinal(folded); ok {
		idx := n
		if n == -1 { // "last"
			idx = len(pool)
		}
		if idx >= 1 && idx <= len(pool) {
			c := pool[idx-1]
			return Result{Candidate: &c, Kind: "ordinal"}
		}
		// Ordinal out of range is unresolved, not an error.
		return Result{}
	}

	var hit *types.CandidateRef
	for i := range pool {
		if Fold(pool[i].Label) == folded || (pool[i].Sublabel != "" && Fold(pool[i].Sublabel) == folded) {
			if hit != nil {
				// Two candidates share the label: ambiguous, never execute.
				return Result{Collision: true}
			}
			c := pool[i]
			hit = &c
		}
	}
	if hit != nil {
		return Result{Candidate: hit, Kind: "label"}
	}
	return Result{}
}

// PureOrdinal reports whether folded text is wholly an ordinal/position
// reference with no surrounding words. Returns -1 for "last".
func PureOrdinal(folded string) (int, bool) {
	switch folded {
	case "":
		return 0, false
	case "last", "the last", "last one", "the last one":
		return -1, true
	}

	s := folded
	for _, p := range []string{"the ", "number ", "option ", "item "} {
		if strings.HasPrefix(s, p) {
			s = strings.TrimPrefix(s, p)
			break
		}
	}
	for _, suf := range []string{" one", " option", " item"} {
		if strings.HasSuffix(s, suf) {
			s = strings.TrimSuffix(s, suf)
			break
		}
	}

	if n, ok := ordinalWords[s]; ok {
		return n, true
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 99 {
		return n, true
	}
	return 0, false
}

// IsSelectionShaped reports whether the residual could bind to the given
// option set at all: a pure ordinal, or an exact label/sublabel of one of
// its candidates. The post-action selection gate uses this so garbage input
// never accidentally binds to a stale list merely because one exists.
func IsSelectionShaped(residual string, pool []types.CandidateRef) bool {
	folded := Fold(residual)
	if folded == "" {
		return false
	}
	if _, ok := PureOrdinal(folded); ok {
		return true
	}
	for i := range pool {
		if Fold(pool[i].Label) == folded || (pool[i].Sublabel != "" && Fold(pool[i].Sublabel) == folded) {
			return true
		}
	}
	return false
}

// Fold is the single normalization used for deterministic comparison:
// trimmed, case-folded, inner whitespace collapsed. Nothing fuzzier.
func Fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
