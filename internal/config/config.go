// Package config is the Environment/Config layer: the store DSN,
// budget ceilings, concurrency limit, iteration cap, and per-capability
// agent bindings a conductor invocation runs under. It keeps the
// teacher's YAML-first internal/config package but replaces its
// user-defined-phase schema with Conductor's own fixed five-phase one.
package config

import (
	"time"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/budget"
)

// Config is the root of .conductor/config.yaml, overlaid with
// CONDUCTOR_-prefixed environment variables and CLI flags by Loader.
type Config struct {
	Store        StoreConfig             `mapstructure:"store" yaml:"store"`
	Budget       BudgetConfig            `mapstructure:"budget" yaml:"budget"`
	Concurrency  int64                   `mapstructure:"concurrency" yaml:"concurrency"`
	IterationCap int                     `mapstructure:"iteration_cap" yaml:"iteration_cap"`
	Worktree     WorktreeConfig          `mapstructure:"worktree" yaml:"worktree"`
	Agents       map[string]AgentBinding `mapstructure:"agents" yaml:"agents"`
	Log          LogConfig               `mapstructure:"log" yaml:"log"`
	Server       ServerConfig            `mapstructure:"server" yaml:"server"`
}

// StoreConfig points at the workflow store (internal/store.Open's dbPath).
type StoreConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// BudgetConfig mirrors internal/budget.Ceilings plus where the ledger's
// local running-totals cache lives on disk.
type BudgetConfig struct {
	PerTask    float64 `mapstructure:"per_task" yaml:"per_task"`
	PerProject float64 `mapstructure:"per_project" yaml:"per_project"`
	LedgerPath string  `mapstructure:"ledger_path" yaml:"ledger_path"`
}

// WorktreeConfig configures internal/worktree.Manager.
type WorktreeConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// LogConfig configures internal/obslog's charmbracelet/log.Logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// ServerConfig configures internal/control.Server.ListenAndServe.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AgentBinding binds one capability (a map key matching an
// agentcli.Capability value, e.g. "produce_plan") to a concrete CLI.
type AgentBinding struct {
	AgentID        string        `mapstructure:"agent_id" yaml:"agent_id"`
	Binary         string        `mapstructure:"binary" yaml:"binary"`
	Model          string        `mapstructure:"model" yaml:"model"`
	AllowTools     []string      `mapstructure:"allow_tools" yaml:"allow_tools"`
	ExtraArgs      []string      `mapstructure:"extra_args" yaml:"extra_args"`
	SoftTimeout    time.Duration `mapstructure:"soft_timeout" yaml:"soft_timeout"`
	HardTimeout    time.Duration `mapstructure:"hard_timeout" yaml:"hard_timeout"`
	BudgetEstimate float64       `mapstructure:"budget_estimate" yaml:"budget_estimate"`
	StripFence     bool          `mapstructure:"strip_fence" yaml:"strip_fence"`
}

// requiredCapabilities is the four-eyes protocol's fixed capability set
// (invariant 8) — every one of these must be bound for a config to be
// usable, security and architecture reviewers bound to distinct agents.
var requiredCapabilities = []agentcli.Capability{
	agentcli.CapabilityProducePlan,
	agentcli.CapabilityImplementTask,
	agentcli.CapabilityReviewSecurity,
	agentcli.CapabilityReviewArchitecture,
}

// AgentConfigs converts the YAML-facing Agents map into the
// map[agentcli.Capability]agentcli.AgentConfig shape internal/agentcli.Adapter
// consumes directly.
func (c *Config) AgentConfigs() map[agentcli.Capability]agentcli.AgentConfig {
	out := make(map[agentcli.Capability]agentcli.AgentConfig, len(c.Agents))
	for key, b := range c.Agents {
		capability := agentcli.Capability(key)
		out[capability] = agentcli.AgentConfig{
			Capability:     capability,
			AgentID:        b.AgentID,
			Binary:         b.Binary,
			Model:          b.Model,
			AllowTools:     b.AllowTools,
			ExtraArgs:      b.ExtraArgs,
			SoftTimeout:    b.SoftTimeout,
			HardTimeout:    b.HardTimeout,
			BudgetEstimate: b.BudgetEstimate,
			StripFence:     b.StripFence,
		}
	}
	return out
}

// Ceilings converts Budget into internal/budget.Ceilings.
func (c *Config) Ceilings() budget.Ceilings {
	return budget.Ceilings{PerTask: c.Budget.PerTask, PerProject: c.Budget.PerProject}
}
