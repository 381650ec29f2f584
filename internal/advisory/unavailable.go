package advisory

import (
	"context"

	"wayfind/internal/types"
)

// UnavailableClient is the AdvisoryClient used when no provider is
// configured. Every call reports need_more_info, so routing still works in
// its deterministic and clarifier tiers with no model at all.
type UnavailableClient struct{}

func NewUnavailableClient() *UnavailableClient { return &UnavailableClient{} }

func (*UnavailableClient) Invoke(context.Context, types.AdvisoryRequest) (types.AdvisoryResult, error) {
	return types.AdvisoryResult{Kind: types.ResultNeedMoreInfo}, nil
}
