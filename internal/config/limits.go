package config

import "fmt"

// ValidateScope checks the typo-cue detection tunables.
func (c *Config) ValidateScope() error {
	if c.Scope.TypoMaxDistance < 1 || c.Scope.TypoMaxDistance > 3 {
		return fmt.Errorf("scope.typo_max_distance must be in [1,3]")
	}
	if c.Scope.TypoMinCueLength < 3 {
		return fmt.Errorf("scope.typo_min_cue_length must be >= 3")
	}
	return nil
}

// ValidatePool checks candidate-pool bounds.
func (c *Config) ValidatePool() error {
	if c.Pool.MaxCandidates < 1 {
		return fmt.Errorf("pool.max_candidates must be >= 1")
	}
	if c.Pool.GatherTimeout <= 0 {
		return fmt.Errorf("pool.gather_timeout must be > 0")
	}
	return nil
}

// ValidateAdvisory checks the enrichment budgets. Budgets are small fixed
// constants so the loop is provably bounded.
func (c *Config) ValidateAdvisory() error {
	if c.Advisory.MaxEnrichmentSteps < 0 || c.Advisory.MaxEnrichmentSteps > 9 {
		return fmt.Errorf("advisory.max_enrichment_steps must be in [0,9]")
	}
	if c.Advisory.MaxCallsPerStep < 1 || c.Advisory.MaxCallsPerStep > 9 {
		return fmt.Errorf("advisory.max_calls_per_step must be in [1,9]")
	}
	if c.Advisory.CallTimeout <= 0 {
		return fmt.Errorf("advisory.call_timeout must be > 0")
	}
	return nil
}

// ValidateTrace checks trace-window bounds. The dedupe window is constrained
// to the short range where double-submits are indistinguishable from repeats.
func (c *Config) ValidateTrace() error {
	if c.Trace.MaxEntries < 1 {
		return fmt.Errorf("trace.max_entries must be >= 1")
	}
	if c.Trace.DedupeWindowMS < 100 || c.Trace.DedupeWindowMS > 1000 {
		return fmt.Errorf("trace.dedupe_window_ms must be in [100,1000]")
	}
	return nil
}

// ValidateSession checks session lifecycle bounds.
func (c *Config) ValidateSession() error {
	if c.Session.OptionSetTTLTurns < 1 {
		return fmt.Errorf("session.option_set_ttl_turns must be >= 1")
	}
	if c.Session.ChoiceWindow < 1 {
		return fmt.Errorf("session.choice_window must be >= 1")
	}
	return nil
}
