// Package config loads engine and batch settings from YAML files and turns
// them into functional options for the rest of the library. All fields are
// optional; zero values defer to the package defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentloop/compact"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/engine"
	"github.com/hupe1980/agentloop/tool"
)

// Compaction configures the conversation compaction policy.
type Compaction struct {
	// Disabled switches compaction off entirely.
	Disabled bool `yaml:"disabled"`
	// Threshold is the context-usage fraction that triggers proactive
	// compaction, for example 0.8.
	Threshold float64 `yaml:"threshold"`
	// CharsPerToken tunes the character-based usage estimator.
	CharsPerToken int `yaml:"chars_per_token"`
}

// Config is the YAML shape for engine and batch settings.
type Config struct {
	System              string          `yaml:"system"`
	Metadata            string          `yaml:"metadata"`
	MaxRequests         int             `yaml:"max_requests"`
	MaxEmptyTurnRetries int             `yaml:"max_empty_turn_retries"`
	Prices              core.PriceTable `yaml:"prices"`
	Compaction          Compaction      `yaml:"compaction"`
	AllowedTools        []string        `yaml:"allowed_tools"`
}

// Load reads a config file. A missing file is not an error; it yields an
// empty Config so everything falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault looks for agentloop.yaml in the working directory and then in
// ~/.agentloop/, with the working directory taking precedence. Missing files
// are skipped.
func LoadDefault() (*Config, error) {
	cfg := &Config{}
	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFile(filepath.Join(home, ".agentloop", "agentloop.yaml"), cfg); err != nil {
			return nil, err
		}
	}
	if wd, err := os.Getwd(); err == nil {
		if err := mergeFile(filepath.Join(wd, "agentloop.yaml"), cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// mergeFile unmarshals path into cfg when the file exists. Fields present in
// the YAML overwrite earlier values, giving a simple precedence merge.
func mergeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// EngineOptions converts the config into engine functional options.
func (c *Config) EngineOptions() []func(o *engine.Options) {
	var opts []func(o *engine.Options)
	if c.System != "" {
		opts = append(opts, engine.WithSystem(c.System))
	}
	if c.Metadata != "" {
		opts = append(opts, engine.WithMetadata(c.Metadata))
	}
	if c.MaxRequests > 0 {
		opts = append(opts, engine.WithMaxRequests(c.MaxRequests))
	}
	if c.MaxEmptyTurnRetries > 0 {
		opts = append(opts, engine.WithMaxEmptyTurnRetries(c.MaxEmptyTurnRetries))
	}
	if c.Prices != (core.PriceTable{}) {
		opts = append(opts, engine.WithPrices(c.Prices))
	}
	if c.Compaction != (Compaction{}) {
		opts = append(opts, engine.WithCompaction(c.CompactionPolicy()))
	}
	return opts
}

// Allowlist builds a tool allow-list from AllowedTools. Entries containing
// glob metacharacters become patterns; everything else is an exact name.
// Returns the subagent default when no tools are configured.
func (c *Config) Allowlist() *tool.Allowlist {
	if len(c.AllowedTools) == 0 {
		return tool.SubagentAllowlist()
	}
	a := tool.NewAllowlist()
	for _, entry := range c.AllowedTools {
		if strings.ContainsAny(entry, "*?[") {
			a.AllowPattern(entry)
			continue
		}
		a.Allow(tool.Name(entry))
	}
	return a
}

// CompactionPolicy builds the configured compact.Policy, nil when disabled.
func (c *Config) CompactionPolicy() *compact.Policy {
	if c.Compaction.Disabled {
		return nil
	}
	p := compact.DefaultPolicy()
	if c.Compaction.Threshold > 0 {
		p.Threshold = c.Compaction.Threshold
	}
	if c.Compaction.CharsPerToken > 0 {
		p.Estimator = compact.CharEstimator{CharsPerToken: c.Compaction.CharsPerToken}
	}
	return p
}
