package config

import (
	"fmt"
	"strings"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
)

// Validate checks a loaded Config for the combination of fields a running
// conductor needs. It only checks; it sets no defaults and leaves cfg
// unchanged.
func Validate(cfg *Config) error {
	if cfg.Store.DSN == "" {
		return fmt.Errorf("config: 'store.dsn' is required")
	}

	if cfg.Concurrency <= 0 {
		return fmt.Errorf("config: 'concurrency' must be >= 1")
	}
	if cfg.IterationCap <= 0 {
		return fmt.Errorf("config: 'iteration_cap' must be >= 1")
	}

	if cfg.Budget.PerTask < 0 {
		return fmt.Errorf("config: 'budget.per_task' must be >= 0")
	}
	if cfg.Budget.PerProject < 0 {
		return fmt.Errorf("config: 'budget.per_project' must be >= 0")
	}
	if cfg.Budget.PerTask > 0 && cfg.Budget.PerProject > 0 && cfg.Budget.PerTask > cfg.Budget.PerProject {
		return fmt.Errorf("config: 'budget.per_task' (%v) must not exceed 'budget.per_project' (%v)", cfg.Budget.PerTask, cfg.Budget.PerProject)
	}

	if cfg.Worktree.BaseDir == "" {
		return fmt.Errorf("config: 'worktree.base_dir' is required")
	}

	for _, c := range requiredCapabilities {
		binding, ok := cfg.Agents[string(c)]
		if !ok {
			return fmt.Errorf("config: 'agents.%s' is required (four-eyes protocol needs all four capabilities bound)", c)
		}
		if strings.TrimSpace(binding.Binary) == "" {
			return fmt.Errorf("config: 'agents.%s.binary' is required", c)
		}
		if strings.TrimSpace(binding.AgentID) == "" {
			return fmt.Errorf("config: 'agents.%s.agent_id' is required", c)
		}
		if binding.SoftTimeout > 0 && binding.HardTimeout > 0 && binding.SoftTimeout >= binding.HardTimeout {
			return fmt.Errorf("config: 'agents.%s.soft_timeout' must be less than 'hard_timeout'", c)
		}
	}

	if err := validateReviewerDistinctness(cfg); err != nil {
		return err
	}

	return nil
}

// validateReviewerDistinctness enforces invariant 8 at config time: the
// security and architecture reviewers must be genuinely independent
// agents (distinct agent_id), not merely distinct config entries pointed
// at the same one.
func validateReviewerDistinctness(cfg *Config) error {
	sec, secOK := cfg.Agents[string(agentcli.CapabilityReviewSecurity)]
	arch, archOK := cfg.Agents[string(agentcli.CapabilityReviewArchitecture)]
	if !secOK || !archOK {
		return nil // already reported by the required-capability loop above
	}
	if sec.AgentID == arch.AgentID {
		return fmt.Errorf("config: 'agents.review_security.agent_id' and 'agents.review_architecture.agent_id' must differ (four-eyes protocol)")
	}
	return nil
}
