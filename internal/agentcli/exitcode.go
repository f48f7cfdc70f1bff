package agentcli

import (
	"errors"
	"os/exec"
)

// exitCode extracts the process exit code from a Cmd.Wait() error. A nil
// error means exit code 0. Any non-ExitError is returned unchanged so the
// caller can distinguish "ran and exited non-zero" from "never ran".
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
