// Package obslog is the structured diagnostic log: one line per state
// transition, agent invocation, and arbitration decision, written to a
// rotating file under a workflow's artifacts directory and mirrored to
// stderr at info level. It is the structured counterpart to internal/ux's
// human-facing narrative — obslog is for later diagnosis, ux is for
// watching a run happen.
package obslog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// Logger wraps a charmbracelet/log.Logger writing to both a rotating file
// and stderr.
type Logger struct {
	*log.Logger
	file *rotatingFile
}

// New opens (creating if necessary) a rotating log file under
// artifactsDir/logs/conductor.log and returns a Logger that mirrors every
// record to stderr as well.
func New(artifactsDir string) (*Logger, error) {
	logDir := filepath.Join(artifactsDir, "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, err
	}
	rf, err := openRotatingFile(filepath.Join(logDir, "conductor.log"), defaultMaxSize, defaultMaxBackups)
	if err != nil {
		return nil, err
	}

	w := io.MultiWriter(rf, os.Stderr)
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	return &Logger{Logger: l, file: rf}, nil
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Transition logs a phase state-machine step (one line per Advance call).
func (l *Logger) Transition(workflowID string, phase domain.Phase, status domain.PhaseStatus) {
	l.Info("phase transition", "workflow", workflowID, "phase", phase, "status", status)
}

// AgentInvocation logs one agent CLI call outcome.
func (l *Logger) AgentInvocation(workflowID string, capability string, durationMS int64, costUSD float64, err error) {
	if err != nil {
		l.Error("agent invocation failed", "workflow", workflowID, "capability", capability, "duration_ms", durationMS, "error", err)
		return
	}
	l.Info("agent invocation", "workflow", workflowID, "capability", capability, "duration_ms", durationMS, "cost_usd", costUSD)
}

// Arbitration logs a review arbitration outcome.
func (l *Logger) Arbitration(workflowID string, phase domain.Phase, decision domain.Decision) {
	l.Info("review arbitration", "workflow", workflowID, "phase", phase, "decision", decision)
}
