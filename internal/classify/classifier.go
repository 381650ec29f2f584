// Package classify turns a raw utterance into a ClassifiedIntent.
// Classification is a pure function of the input text plus a small static
// lexicon: no side effects, deterministic, and total (unknown, never an
// error). Pattern families are checked in a fixed order because several
// overlap: affirmation/rejection before correction, meta phrases before
// explain extraction.
package classify

import (
	"strings"

	"wayfind/internal/types"
)

// conversationalPrefixes are stripped before classification, longest first.
var conversationalPrefixes = []string{
	"can you tell me",
	"could you tell me",
	"can you please",
	"could you please",
	"would you please",
	"can you",
	"could you",
	"would you",
	"will you",
	"i want to",
	"i'd like to",
	"i would like to",
	"i need to",
	"please",
}

// typoTable corrects a small fixed set of frequent misspellings. Scope words
// are deliberately absent: a misspelled scope cue must route to the replay
// clarifier, never be silently corrected.
var typoTable = map[string]string{
	"opne":   "open",
	"oepn":   "open",
	"shwo":   "show",
	"swtich": "switch",
	"swich":  "switch",
	"youu":   "you",
	"teh":    "the",
	"waht":   "what",
	"wat":    "what",
	"pls":    "please",
	"plz":    "please",
	"cna":    "can",
	"thier":  "their",
}

var affirmations = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
	"ok": true, "okay": true, "correct": true, "right": true,
	"exactly": true, "confirm": true, "that one": true, "that's it": true,
	"go ahead": true, "do it": true,
}

var rejections = map[string]bool{
	"no": true, "nope": true, "nah": true, "not that": true,
	"not that one": true, "none": true, "none of these": true,
	"none of those": true, "neither": true, "wrong": true, "wrong one": true,
}

var correctionPrefixes = []string{
	"i meant", "no i meant", "no, i meant", "actually i meant",
	"i said", "no i said", "i mean", "actually,", "actually",
}

var metaPhrases = map[string]bool{
	"help": true, "what can you do": true, "what can i do": true,
	"what are my options": true, "options": true, "show options": true,
	"repeat": true, "repeat that": true, "say that again": true,
	"what did you say": true,
}

var hardInterrupts = map[string]bool{
	"stop": true, "cancel": true, "stop it": true, "cancel that": true,
	"quit": true, "abort": true, "exit": true, "forget it": true,
	"never mind": true, "nevermind": true, "nvm": true,
}

var returnCues = map[string]bool{
	"back": true, "go back": true, "back to the list": true,
	"back to that list": true, "resume": true, "continue": true,
	"where were we": true, "return": true, "show the list again": true,
}

var explainPrefixes = []string{
	"what is", "what's", "whats", "what are", "what does",
	"explain", "tell me about", "describe", "how do i", "how does",
	"how to", "why is", "why does", "where is",
}

var navigateVerbs = map[string]bool{
	"go": true, "goto": true, "navigate": true, "switch": true,
	"jump": true, "take": true,
}

var commandVerbs = map[string]bool{
	"open": true, "show": true, "view": true, "display": true,
	"load": true, "launch": true, "close": true, "hide": true,
	"pin": true, "unpin": true, "expand": true, "collapse": true,
}

var followupPrefixes = []string{
	"and ", "also ", "then ", "what about ", "how about ",
}

// Normalize lowercases, fixes the typo table, collapses separators, and
// strips conversational prefixes and edge punctuation. The trailing "?" is
// consumed here; callers needing it use Classify's IsQuestion.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, "!.,;: ")

	fields := strings.Fields(s)
	for i, f := range fields {
		trimmed := strings.Trim(f, "?!.,;:")
		if fix, ok := typoTable[trimmed]; ok {
			fields[i] = strings.Replace(f, trimmed, fix, 1)
		}
	}
	s = strings.Join(fields, " ")

	for changed := true; changed; {
		changed = false
		for _, p := range conversationalPrefixes {
			if strings.HasPrefix(s, p+" ") {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				changed = true
			}
		}
	}
	s = strings.TrimSuffix(s, "?")

	for changed := true; changed; {
		changed = false
		for _, suf := range []string{" please", " thanks", " thank you"} {
			if strings.HasSuffix(s, suf) {
				s = strings.TrimSuffix(s, suf)
				changed = true
			}
		}
	}
	return s
}

// Classify derives the intent variant for one utterance.
func Classify(text string) types.ClassifiedIntent {
	isQuestion := strings.HasSuffix(strings.TrimSpace(text), "?")
	norm := Normalize(text)

	intent := types.ClassifiedIntent{
		Kind:       types.IntentUnknown,
		Normalized: norm,
		IsQuestion: isQuestion,
	}
	if norm == "" {
		return intent
	}

	// Affirmation/rejection first: "no" must never fall into correction.
	if affirmations[norm] {
		intent.Kind = types.IntentAffirmation
		return intent
	}
	if rejections[norm] {
		intent.Kind = types.IntentRejection
		return intent
	}

	for _, p := range correctionPrefixes {
		if strings.HasPrefix(norm, p+" ") {
			intent.Kind = types.IntentCorrection
			intent.Topic = extractTopic(strings.TrimSpace(strings.TrimPrefix(norm, p)))
			return intent
		}
	}

	// Meta phrases before explain extraction: "what are my options" is meta,
	// not a doc query about "my options".
	if metaPhrases[norm] {
		intent.Kind = types.IntentMeta
		return intent
	}

	for _, p := range explainPrefixes {
		if norm == p || strings.HasPrefix(norm, p+" ") {
			intent.Kind = types.IntentQuestion
			intent.IsQuestion = true
			intent.Topic = extractTopic(strings.TrimSpace(strings.TrimPrefix(norm, p)))
			return intent
		}
	}

	first, rest := splitFirstToken(norm)
	if navigateVerbs[first] {
		intent.Kind = types.IntentNavigate
		intent.IsCommand = true
		intent.Topic = extractTopic(stripDirectionWords(rest))
		return intent
	}
	if commandVerbs[first] {
		intent.Kind = types.IntentCommand
		intent.IsCommand = true
		intent.Topic = extractTopic(rest)
		return intent
	}

	for _, p := range followupPrefixes {
		if strings.HasPrefix(norm, p) {
			intent.Kind = types.IntentFollowup
			intent.Topic = extractTopic(strings.TrimSpace(strings.TrimPrefix(norm, p)))
			return intent
		}
	}

	if isQuestion {
		intent.Kind = types.IntentQuestion
		intent.Topic = extractTopic(norm)
		return intent
	}

	return intent
}

// IsHardInterrupt reports whether the normalized text is an explicit or
// ambiguous stop/cancel. Interrupts win over every other tier.
func IsHardInterrupt(normalized string) bool {
	return hardInterrupts[normalized]
}

// IsReturnCue reports whether the normalized text deterministically asks to
// restore a paused option set.
func IsReturnCue(normalized string) bool {
	return returnCues[normalized]
}

// extractTopic trims leading articles and caps topic length.
func extractTopic(s string) string {
	s = strings.TrimSpace(s)
	for _, art := range []string{"the ", "a ", "an ", "my ", "me "} {
		if strings.HasPrefix(s, art) {
			s = strings.TrimPrefix(s, art)
			break
		}
	}
	fields := strings.Fields(s)
	if len(fields) > maxTopicWords {
		fields = fields[:maxTopicWords]
	}
	return strings.Join(fields, " ")
}

// maxTopicWords bounds extracted topics; config may lower it further at the
// router but the classifier itself stays dependency-free.
const maxTopicWords = 8

// stripDirectionWords removes "to"/"me to" connectors after navigate verbs.
func stripDirectionWords(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{"me to ", "me back to ", "back to ", "to ", "over to "} {
		if strings.HasPrefix(s, p) {
			return strings.TrimSpace(strings.TrimPrefix(s, p))
		}
	}
	return s
}

func splitFirstToken(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i], strings.TrimSpace(s[i:])
		}
	}
	return s, ""
}
