// Package advisory implements the bounded advisory arbitrator: one advisory
// language-model call over a fixed candidate pool, with a fingerprint-gated
// enrichment loop. No advisory response ever carries execution authority by
// itself; a select result executes only after the pool-membership check.
package advisory

import (
	"encoding/json"
	"fmt"
	"strings"

	"wayfind/internal/types"
)

const selectionSystemPrompt = `You are the arbitration stage of a navigation assistant.
You are given the user's residual request and a fixed, numbered candidate list.
You may ONLY answer about candidates in the list. Output ONLY JSON, no prose.

Schema:
{
  "decision": "select" | "need_more_info",
  "candidate_id": "<id from the list, select only>",
  "confidence": 0.0-1.0,
  "need": {"kind": "refresh_snapshot", "scope": "<scope>", "instance_id": "<id>"}
}
Return "need_more_info" whenever no single candidate is clearly intended.
Never invent candidate ids.`

const answerSystemPrompt = `You are the explanatory stage of a navigation assistant.
Answer the user's question briefly and concretely. Output ONLY JSON:
{"decision": "answer", "answer": "<text>"}`

// buildPrompt renders one advisory request into system and user prompts.
func buildPrompt(req types.AdvisoryRequest) (system, user string) {
	var b strings.Builder

	switch req.Mode {
	case types.ModeAnswer:
		fmt.Fprintf(&b, "Question: %s\n", req.Residual)
		return answerSystemPrompt, b.String()
	case types.ModeClarifierReply:
		// The reply must be resolved against the literal prior question and
		// its stored candidates, never a rebuilt pool.
		fmt.Fprintf(&b, "You previously asked the user:\n%q\n\n", req.ClarifierQuestion)
		fmt.Fprintf(&b, "The user replied: %q\n\n", req.Residual)
	default:
		fmt.Fprintf(&b, "User request: %q\n\n", req.Residual)
	}

	b.WriteString("Candidates:\n")
	for i, c := range req.Candidates {
		fmt.Fprintf(&b, "%d. id=%s label=%q", i+1, c.ID, c.Label)
		if c.Sublabel != "" {
			fmt.Fprintf(&b, " sublabel=%q", c.Sublabel)
		}
		if c.Type != "" {
			fmt.Fprintf(&b, " type=%s", c.Type)
		}
		if c.Hint != "" {
			fmt.Fprintf(&b, " hint=%q", c.Hint)
		}
		fmt.Fprintf(&b, " scope=%s\n", c.Scope)
	}
	b.WriteString("\nJSON only:")
	return selectionSystemPrompt, b.String()
}

// rawResult is the wire shape of an advisory response.
type rawResult struct {
	Decision    string  `json:"decision"`
	CandidateID string  `json:"candidate_id"`
	Confidence  float64 `json:"confidence"`
	Answer      string  `json:"answer"`
	Need        *struct {
		Kind       string `json:"kind"`
		Scope      string `json:"scope"`
		InstanceID string `json:"instance_id"`
	} `json:"need"`
}

// parseResult decodes a model response into an AdvisoryResult. Anything
// undecodable degrades to need_more_info: a malformed advisory response must
// never become an execution or a dropped turn.
func parseResult(resp string, mode types.AdvisoryMode) types.AdvisoryResult {
	resp = stripFences(resp)

	var raw rawResult
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		if mode == types.ModeAnswer && resp != "" {
			// Answer mode tolerates a bare-text reply.
			return types.AdvisoryResult{Kind: types.ResultAnswer, Answer: resp}
		}
		return types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
	}

	switch raw.Decision {
	case "select":
		if mode == types.ModeAnswer || raw.CandidateID == "" {
			return types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
		}
		return types.AdvisoryResult{
			Kind:        types.ResultSelect,
			CandidateID: raw.CandidateID,
			Confidence:  raw.Confidence,
		}
	case "answer":
		if raw.Answer == "" {
			return types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
		}
		return types.AdvisoryResult{Kind: types.ResultAnswer, Answer: raw.Answer}
	default:
		res := types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}
		if raw.Need != nil {
			res.Evidence = &types.EvidenceRequest{
				Kind:       raw.Need.Kind,
				Scope:      types.Scope(raw.Need.Scope),
				InstanceID: raw.Need.InstanceID,
			}
		}
		return res
	}
}

// stripFences removes markdown code fences models like to wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
