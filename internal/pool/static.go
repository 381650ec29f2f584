package pool

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"wayfind/internal/types"
)

// StaticSource is a SnapshotSource backed by an in-memory candidate table.
// The CLI loads one from a yaml fixture; tests construct them directly.
type StaticSource struct {
	mu         sync.RWMutex
	candidates map[types.Scope][]types.CandidateRef
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{candidates: make(map[types.Scope][]types.CandidateRef)}
}

// fixtureFile is the yaml shape of a snapshot fixture.
type fixtureFile struct {
	Candidates []struct {
		ID       string `yaml:"id"`
		Label    string `yaml:"label"`
		Sublabel string `yaml:"sublabel"`
		Type     string `yaml:"type"`
		Scope    string `yaml:"scope"`
		Hint     string `yaml:"hint"`
	} `yaml:"candidates"`
}

// LoadFixture reads candidates from a yaml file.
func LoadFixture(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var ff fixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	src := NewStaticSource()
	for _, c := range ff.Candidates {
		src.Add(types.CandidateRef{
			ID:       c.ID,
			Label:    c.Label,
			Sublabel: c.Sublabel,
			Type:     c.Type,
			Scope:    types.Scope(c.Scope),
			Hint:     c.Hint,
		})
	}
	return src, nil
}

// Add appends one candidate under its scope.
func (s *StaticSource) Add(ref types.CandidateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[ref.Scope] = append(s.candidates[ref.Scope], ref)
}

// Scopes returns every scope this source has candidates for.
func (s *StaticSource) Scopes() []types.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scopes := make([]types.Scope, 0, len(s.candidates))
	for sc := range s.candidates {
		scopes = append(scopes, sc)
	}
	return scopes
}

// VisibleCandidates implements types.SnapshotSource.
func (s *StaticSource) VisibleCandidates(_ context.Context, scope types.Scope, _ string) ([]types.CandidateRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.CandidateRef(nil), s.candidates[scope]...), nil
}
