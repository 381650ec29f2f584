// Package scope detects explicit scope markers ("from chat", "on the sales
// dashboard") in normalized text and strips them, producing a scope tag and
// residual text. A token that merely resembles a scope word is flagged for a
// one-turn replay clarifier instead of being silently dropped or accepted.
package scope

import (
	"regexp"
	"strings"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// Config holds the typo-cue tunables, mirrored from config.ScopeConfig to
// keep this package free of the config dependency.
type Config struct {
	TypoMaxDistance  int
	TypoMinCueLength int
}

// Resolver resolves scope cues against a fixed pattern table.
type Resolver struct {
	cfg Config
}

// NewResolver creates a resolver with the given tunables.
func NewResolver(cfg Config) *Resolver {
	if cfg.TypoMaxDistance <= 0 {
		cfg.TypoMaxDistance = 2
	}
	if cfg.TypoMinCueLength <= 0 {
		cfg.TypoMinCueLength = 4
	}
	return &Resolver{cfg: cfg}
}

// scopeNouns maps surface nouns (singular and plural) to scopes.
var scopeNouns = map[string]types.Scope{
	"chat": types.ScopeChat, "chats": types.ScopeChat,
	"widget": types.ScopeWidget, "widgets": types.ScopeWidget,
	"dashboard": types.ScopeDashboard, "dashboards": types.ScopeDashboard,
	"workspace": types.ScopeWorkspace, "workspaces": types.ScopeWorkspace,
}

// genericModifiers preceding a scope noun keep the reference generic rather
// than named ("the active widget" vs "the sales widget").
var genericModifiers = map[string]bool{
	"the": true, "my": true, "this": true, "that": true,
	"current": true, "active": true, "focused": true, "open": true,
}

// Ordered pattern table. RE2 has no lookahead, so the noun alternation is
// anchored and the name group is matched lazily to keep unrelated trailing
// words out of the cue.
var (
	// "... from the sales dashboard" / "... in my team workspace"
	trailingCue = regexp.MustCompile(`\s+(?:from|in|on|inside|within)\s+((?:[a-z0-9][a-z0-9_-]*\s+)*?)(chat|chats|widget|widgets|dashboard|dashboards|workspace|workspaces)$`)
	// "from the dashboard, open sample" (leading cue)
	leadingCue = regexp.MustCompile(`^(?:from|in|on|inside|within)\s+((?:[a-z0-9][a-z0-9_-]*\s+)*?)(chat|chats|widget|widgets|dashboard|dashboards|workspace|workspaces)[,:]?\s+`)
	// trailing preposition + final token, used only for typo inspection
	trailingToken = regexp.MustCompile(`\s+(?:from|in|on|inside|within)\s+((?:[a-z0-9][a-z0-9_-]*\s+)*?)([a-z][a-z0-9_-]*)$`)
)

// Resolve inspects normalized text for an explicit scope cue.
func (r *Resolver) Resolve(normalized string) types.ScopeCue {
	cue := types.ScopeCue{
		Scope:      types.ScopeNone,
		SourceKind: types.SourceNone,
		Stripped:   normalized,
	}
	if normalized == "" {
		return cue
	}

	if m := trailingCue.FindStringSubmatchIndex(normalized); m != nil {
		return r.buildCue(normalized, normalized[:m[0]], normalized[m[2]:m[3]], normalized[m[4]:m[5]])
	}
	if m := leadingCue.FindStringSubmatchIndex(normalized); m != nil {
		return r.buildCue(normalized, normalized[m[1]:], normalized[m[2]:m[3]], normalized[m[4]:m[5]])
	}

	// No exact cue: check whether the trailing token is a misspelled scope
	// word. These never resolve directly; they arm the replay clarifier.
	if m := trailingToken.FindStringSubmatchIndex(normalized); m != nil {
		token := normalized[m[4]:m[5]]
		if guess, ok := r.nearestScope(token); ok {
			cue.TypoToken = token
			cue.TypoScope = guess
			cue.Stripped = strings.TrimSpace(normalized[:m[0]])
			logging.ScopeDebug("typo cue candidate: token=%q guess=%s", token, guess)
			return cue
		}
	}

	return cue
}

// buildCue classifies the matched cue and assembles the residual.
func (r *Resolver) buildCue(full, residual, modifiers, noun string) types.ScopeCue {
	sc := scopeNouns[noun]
	kind := types.SourceGeneric
	name := ""
	for _, w := range strings.Fields(modifiers) {
		if !genericModifiers[w] {
			kind = types.SourceNamed
			if name != "" {
				name += " "
			}
			name += w
		}
	}
	stripped := strings.TrimSpace(strings.Trim(residual, ",:"))
	logging.ScopeDebug("cue resolved: scope=%s kind=%s name=%q residual=%q", sc, kind, name, stripped)
	return types.ScopeCue{
		Scope:      sc,
		SourceKind: kind,
		Stripped:   stripped,
		Instance:   name,
	}
}

// nearestScope returns the closest scope word within the edit-distance
// threshold. Exact matches are excluded: they resolve through the pattern
// table, not here.
func (r *Resolver) nearestScope(token string) (types.Scope, bool) {
	if len(token) < r.cfg.TypoMinCueLength {
		return types.ScopeNone, false
	}
	if _, exact := scopeNouns[token]; exact {
		return types.ScopeNone, false
	}
	best := types.ScopeNone
	bestDist := r.cfg.TypoMaxDistance + 1
	for word, sc := range scopeNouns {
		d := levenshtein(token, word)
		if d < bestDist {
			bestDist = d
			best = sc
		}
	}
	if bestDist <= r.cfg.TypoMaxDistance {
		return best, true
	}
	return types.ScopeNone, false
}

// levenshtein is a plain two-row DP edit distance.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
