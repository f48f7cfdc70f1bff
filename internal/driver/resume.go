package driver

import (
	"fmt"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// applyDecision interprets decision against w's pending interrupt and
// mutates w accordingly, clearing Pending once resolved. It never touches
// the store — the caller checkpoints afterward.
func applyDecision(w *domain.Workflow, decision Decision) error {
	pending := w.Pending
	switch decision.Action {
	case "abort":
		w.PhaseStatus[pending.Phase] = domain.StatusFailed
		w.State = domain.WorkflowFailed
		w.Pending = nil
		return nil

	case "approve":
		return applyApprove(w, pending)

	case "retry":
		return applyRetry(w, pending)

	default:
		return fmt.Errorf("driver: unrecognized resume decision %q for pending interrupt %q", decision.Action, pending.Type)
	}
}

// applyApprove treats an escalated review as resolved in the workflow's
// favor: the gate the interrupt paused is forced open and the workflow
// advances to the phase it would have reached on an "approved" decision.
func applyApprove(w *domain.Workflow, pending *domain.PendingInterrupt) error {
	if pending.Type != "escalation" {
		return fmt.Errorf("driver: %q interrupt does not accept an approve decision", pending.Type)
	}
	switch pending.Phase {
	case domain.PhaseValidation:
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusCompleted
		w.CurrentPhase = domain.PhaseImplementation
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusPending
	case domain.PhaseVerification:
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusCompleted
		w.CurrentPhase = domain.PhaseCompletion
		w.PhaseStatus[domain.PhaseCompletion] = domain.StatusPending
	default:
		return fmt.Errorf("driver: escalation on unexpected phase %s", pending.Phase)
	}
	w.State = domain.WorkflowRunning
	w.Pending = nil
	return nil
}

// applyRetry sends the workflow back to loop-back the way it would have
// gone automatically in autonomous mode, against the same counters so the
// retry caps still apply across interactive and autonomous runs. A
// needs_changes verdict was already counted when its interrupt was raised.
func applyRetry(w *domain.Workflow, pending *domain.PendingInterrupt) error {
	switch pending.Type {
	case "needs_changes":
		if pending.Phase != domain.PhaseValidation {
			return fmt.Errorf("driver: needs_changes interrupt on unexpected phase %s", pending.Phase)
		}
		if w.ValidationIterations >= domain.MaxValidationIterations {
			w.PhaseStatus[domain.PhaseValidation] = domain.StatusFailed
			w.State = domain.WorkflowFailed
			w.Pending = nil
			return nil
		}
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusNeedsFixes
		w.CurrentPhase = domain.PhasePlanning
		w.PhaseStatus[domain.PhasePlanning] = domain.StatusPending

	case "escalation":
		return applyEscalationRetry(w, pending)

	case "task_failed":
		if pending.Phase != domain.PhaseImplementation {
			return fmt.Errorf("driver: task_failed interrupt on unexpected phase %s", pending.Phase)
		}
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusPending

	default:
		return fmt.Errorf("driver: unrecognized pending interrupt type %q", pending.Type)
	}

	w.State = domain.WorkflowRunning
	w.Pending = nil
	return nil
}

func applyEscalationRetry(w *domain.Workflow, pending *domain.PendingInterrupt) error {
	switch pending.Phase {
	case domain.PhaseValidation:
		w.ValidationIterations++
		if w.ValidationIterations >= domain.MaxValidationIterations {
			w.PhaseStatus[domain.PhaseValidation] = domain.StatusFailed
			w.State = domain.WorkflowFailed
			w.Pending = nil
			return nil
		}
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusNeedsFixes
		w.CurrentPhase = domain.PhasePlanning
		w.PhaseStatus[domain.PhasePlanning] = domain.StatusPending
	case domain.PhaseVerification:
		w.VerificationAttempts++
		if w.VerificationAttempts > domain.MaxVerificationAttempts {
			w.PhaseStatus[domain.PhaseVerification] = domain.StatusFailed
			w.State = domain.WorkflowFailed
			w.Pending = nil
			return nil
		}
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusNeedsFixes
		w.CurrentPhase = domain.PhaseImplementation
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusPending
	default:
		return fmt.Errorf("driver: escalation on unexpected phase %s", pending.Phase)
	}
	return nil
}
