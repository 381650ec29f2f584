// Package pool builds bounded, scope-filtered candidate lists from scoped
// snapshot collaborators. An explicit scope cue means scoped candidates only:
// no pool ever mixes scopes, and an empty pool never falls through to a
// different scope's collaborators.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// Config bounds pool construction.
type Config struct {
	MaxCandidates int
	GatherTimeout time.Duration
}

// Builder owns the per-scope snapshot sources and produces bounded pools.
type Builder struct {
	mu      sync.RWMutex
	sources map[types.Scope][]types.SnapshotSource
	cfg     Config
}

// NewBuilder creates an empty builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 24
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 2 * time.Second
	}
	return &Builder{
		sources: make(map[types.Scope][]types.SnapshotSource),
		cfg:     cfg,
	}
}

// Register attaches a snapshot source to one scope. Registration order is
// preserved so pool ordering stays deterministic across turns.
func (b *Builder) Register(scope types.Scope, src types.SnapshotSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[scope] = append(b.sources[scope], src)
}

// Build queries exactly the collaborators registered for the resolved scope
// and returns a deduplicated, capped candidate list. ScopeNone yields an
// empty pool: the caller decides whether a soft-active set applies.
func (b *Builder) Build(ctx context.Context, scope types.Scope, instanceID string) ([]types.CandidateRef, error) {
	timer := logging.StartTimer(logging.CategoryPool, "Builder.Build")
	defer timer.Stop()

	if scope == types.ScopeNone || scope == "" {
		return nil, nil
	}

	b.mu.RLock()
	srcs := append([]types.SnapshotSource(nil), b.sources[scope]...)
	b.mu.RUnlock()

	if len(srcs) == 0 {
		logging.Pool("no snapshot sources for scope %s", scope)
		return nil, nil
	}

	gctx, cancel := context.WithTimeout(ctx, b.cfg.GatherTimeout)
	defer cancel()

	// Indexed results keep per-source ordering deterministic regardless of
	// goroutine completion order.
	results := make([][]types.CandidateRef, len(srcs))
	g, gctx := errgroup.WithContext(gctx)
	for i, src := range srcs {
		g.Go(func() error {
			refs, err := src.VisibleCandidates(gctx, scope, instanceID)
			if err != nil {
				// One failed source degrades the pool, it does not fail the
				// turn.
				logging.Get(logging.CategoryPool).Warn("snapshot source %d failed for scope %s: %v", i, scope, err)
				return nil
			}
			results[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	merged := b.merge(scope, results)
	logging.Pool("built pool: scope=%s instance=%s candidates=%d", scope, instanceID, len(merged))
	return merged, nil
}

// merge enforces scope isolation, dedupes by id, and caps the pool.
func (b *Builder) merge(scope types.Scope, results [][]types.CandidateRef) []types.CandidateRef {
	seen := make(map[string]bool)
	merged := make([]types.CandidateRef, 0, b.cfg.MaxCandidates)
	dropped := 0
	for _, refs := range results {
		for _, ref := range refs {
			if ref.Scope != scope {
				// A collaborator returning out-of-scope candidates violates
				// the isolation invariant; drop rather than propagate.
				dropped++
				continue
			}
			if ref.ID == "" || seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			merged = append(merged, ref)
			if len(merged) >= b.cfg.MaxCandidates {
				if dropped > 0 {
					logging.Get(logging.CategoryPool).Warn("dropped %d out-of-scope candidates for %s", dropped, scope)
				}
				return merged
			}
		}
	}
	if dropped > 0 {
		logging.Get(logging.CategoryPool).Warn("dropped %d out-of-scope candidates for %s", dropped, scope)
	}
	return merged
}

// Refresh performs one allow-listed enrichment action: re-reading the
// snapshot for the same scope and instance. Any other evidence kind, and any
// attempt to broaden scope, is rejected.
func (b *Builder) Refresh(ctx context.Context, ev types.EvidenceRequest) ([]types.CandidateRef, error) {
	if ev.Kind != "refresh_snapshot" {
		return nil, fmt.Errorf("evidence kind %q is not allow-listed", ev.Kind)
	}
	if ev.Scope == types.ScopeNone || ev.Scope == "" {
		return nil, fmt.Errorf("refresh requires an explicit scope")
	}
	return b.Build(ctx, ev.Scope, ev.InstanceID)
}
