// Package config holds all wayfind configuration. Tunable routing constants
// (typo thresholds, enrichment budgets, dedupe windows) live here rather than
// being hard-coded at call sites.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all wayfind configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Classify  ClassifyConfig  `yaml:"classify"`
	Scope     ScopeConfig     `yaml:"scope"`
	Pool      PoolConfig      `yaml:"pool"`
	Advisory  AdvisoryConfig  `yaml:"advisory"`
	Clarifier ClarifierConfig `yaml:"clarifier"`
	Trace     TraceConfig     `yaml:"trace"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ClassifyConfig configures the input classifier.
type ClassifyConfig struct {
	// MaxTopicWords caps the extracted topic length for explain intents.
	MaxTopicWords int `yaml:"max_topic_words"`
}

// ScopeConfig configures the scope-cue resolver.
type ScopeConfig struct {
	// TypoMaxDistance is the maximum edit distance for a token to count as a
	// misspelled scope word. Such cues route to a one-turn replay clarifier.
	TypoMaxDistance int `yaml:"typo_max_distance"`
	// TypoMinCueLength is the minimum token length considered for typo
	// detection; short tokens collide with ordinary words too easily.
	TypoMinCueLength int `yaml:"typo_min_cue_length"`
}

// PoolConfig configures the candidate pool builder.
type PoolConfig struct {
	// MaxCandidates caps every bounded pool.
	MaxCandidates int `yaml:"max_candidates"`
	// GatherTimeout bounds one turn's snapshot reads.
	GatherTimeout time.Duration `yaml:"gather_timeout"`
}

// AdvisoryConfig configures the bounded advisory arbitrator.
type AdvisoryConfig struct {
	Provider string `yaml:"provider"` // gemini, openai, http
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// CallTimeout bounds every advisory call. Timeout is treated as
	// need_more_info, never as a silent no-op.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// MaxEnrichmentSteps bounds the enrichment loop. Single digits only.
	MaxEnrichmentSteps int `yaml:"max_enrichment_steps"`
	// MaxCallsPerStep bounds re-invocations within one enrichment step.
	MaxCallsPerStep int `yaml:"max_calls_per_step"`
	// Trace enables the call-tracing decorator.
	Trace bool `yaml:"trace"`
}

// ClarifierConfig configures the safe clarifier.
type ClarifierConfig struct {
	// MaxShownOptions caps how many options one combined question lists.
	MaxShownOptions int `yaml:"max_shown_options"`
}

// TraceConfig configures the continuity and action-trace recorder.
type TraceConfig struct {
	// MaxEntries bounds the per-session trace window.
	MaxEntries int `yaml:"max_entries"`
	// DedupeWindowMS collapses identical commits within this window.
	DedupeWindowMS int `yaml:"dedupe_window_ms"`
	// DatabasePath is the SQLite sink location; empty selects the in-memory
	// sink.
	DatabasePath string `yaml:"database_path"`
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	// OptionSetTTLTurns expires an option set after this many turns.
	OptionSetTTLTurns int `yaml:"option_set_ttl_turns"`
	// ChoiceWindow is the size of the recent accepted/rejected windows.
	ChoiceWindow int `yaml:"choice_window"`
	// IdleEviction drops sessions untouched for this long.
	IdleEviction time.Duration `yaml:"idle_eviction"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Dir        string          `yaml:"dir"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "wayfind",
		Version: "0.4.0",
		Classify: ClassifyConfig{
			MaxTopicWords: 8,
		},
		Scope: ScopeConfig{
			TypoMaxDistance:  2,
			TypoMinCueLength: 4,
		},
		Pool: PoolConfig{
			MaxCandidates: 24,
			GatherTimeout: 2 * time.Second,
		},
		Advisory: AdvisoryConfig{
			Provider:           "gemini",
			Model:              "gemini-2.0-flash",
			CallTimeout:        8 * time.Second,
			MaxEnrichmentSteps: 2,
			MaxCallsPerStep:    1,
			Trace:              true,
		},
		Clarifier: ClarifierConfig{
			MaxShownOptions: 6,
		},
		Trace: TraceConfig{
			MaxEntries:     50,
			DedupeWindowMS: 400,
		},
		Session: SessionConfig{
			OptionSetTTLTurns: 3,
			ChoiceWindow:      5,
			IdleEviction:      30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from a yaml file, applies env overrides, and validates.
// A missing file yields the defaults (still env-overridden and validated).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment env win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WAYFIND_API_KEY"); v != "" {
		c.Advisory.APIKey = v
	}
	if v := os.Getenv("WAYFIND_PROVIDER"); v != "" {
		c.Advisory.Provider = v
	}
	if v := os.Getenv("WAYFIND_MODEL"); v != "" {
		c.Advisory.Model = v
	}
	if v := os.Getenv("WAYFIND_BASE_URL"); v != "" {
		c.Advisory.BaseURL = v
	}
	if v := os.Getenv("WAYFIND_DB_PATH"); v != "" {
		c.Trace.DatabasePath = v
	}
	if v := os.Getenv("WAYFIND_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// Validate checks every concern's ranges.
func (c *Config) Validate() error {
	if err := c.ValidateScope(); err != nil {
		return err
	}
	if err := c.ValidatePool(); err != nil {
		return err
	}
	if err := c.ValidateAdvisory(); err != nil {
		return err
	}
	if err := c.ValidateTrace(); err != nil {
		return err
	}
	return c.ValidateSession()
}
