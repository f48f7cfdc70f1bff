package agentcli

import (
	"fmt"
	"os/exec"
)

// Preflight checks that every configured agent binary is resolvable on
// PATH before any phase runs, so a missing CLI fails fast instead of
// mid-workflow.
func Preflight(configs map[Capability]AgentConfig) error {
	seen := make(map[string]bool)
	for _, cfg := range configs {
		if seen[cfg.Binary] {
			continue
		}
		seen[cfg.Binary] = true
		if _, err := exec.LookPath(cfg.Binary); err != nil {
			return fmt.Errorf("agent binary %q not found on PATH: %w", cfg.Binary, err)
		}
	}
	return nil
}
