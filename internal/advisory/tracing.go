package advisory

import (
	"context"
	"time"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// TracingClient wraps an AdvisoryClient and logs every request and result to
// the api category log. Wrap the real client with it when debug logging is on.
type TracingClient struct {
	inner types.AdvisoryClient
}

func NewTracingClient(inner types.AdvisoryClient) *TracingClient {
	return &TracingClient{inner: inner}
}

func (t *TracingClient) Invoke(ctx context.Context, req types.AdvisoryRequest) (types.AdvisoryResult, error) {
	log := logging.Get(logging.CategoryAPI)
	log.Debug("advisory request: mode=%s candidates=%d residual=%q", req.Mode, len(req.Candidates), req.Residual)

	start := time.Now()
	res, err := t.inner.Invoke(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("advisory error after %s: %v", elapsed.Round(time.Millisecond), err)
		return res, err
	}
	switch res.Kind {
	case types.ResultSelect:
		log.Debug("advisory result after %s: select id=%s confidence=%.2f", elapsed.Round(time.Millisecond), res.CandidateID, res.Confidence)
	case types.ResultNeedMoreInfo:
		log.Debug("advisory result after %s: need_more_info evidence=%v", elapsed.Round(time.Millisecond), res.Evidence != nil)
	case types.ResultAnswer:
		log.Debug("advisory result after %s: answer %d chars", elapsed.Round(time.Millisecond), len(res.Answer))
	}
	return res, nil
}
