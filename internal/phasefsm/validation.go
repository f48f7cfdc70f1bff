package phasefsm

import (
	"context"
	"encoding/json"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/review"
)

func runValidation(ctx context.Context, w *domain.Workflow, d *Deps) error {
	planOutput, err := d.Store.QueryByType(ctx, w.ID, domain.PhasePlanning, domain.OutputPlan)
	if err != nil {
		return &domain.ClassifiedError{Class: domain.ClassProtocolViolation, Phase: w.CurrentPhase, Err: err}
	}

	sec, arch := dispatchReviewers(ctx, d, w.ID, "", string(planOutput.Payload), d.RepoRoot)
	if err := recordReviewerArtifacts(ctx, d, w.ID, domain.PhaseValidation, sec, arch); err != nil {
		return err
	}
	decision := review.Arbitrate(domain.PhaseValidation, sec, arch)

	payload, _ := json.Marshal(decision)
	if _, err := d.Store.AppendPhaseOutput(ctx, w.ID, domain.PhaseValidation, domain.OutputValidationConsolidated, payload, "review_arbiter"); err != nil {
		return err
	}

	switch decision.Final {
	case domain.DecisionApproved:
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusCompleted
		w.CurrentPhase = domain.PhaseImplementation
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusPending
		w.Pending = nil

	case domain.DecisionEscalated:
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusNeedsFixes
		w.State = domain.WorkflowPaused
		w.Pending = &domain.PendingInterrupt{
			Type:   "escalation",
			Phase:  domain.PhaseValidation,
			Reason: "reviewers disagree with no clear domain winner",
		}

	case domain.DecisionNeedsChanges:
		w.ValidationIterations++
		if w.Mode == domain.ModeInteractive {
			w.PhaseStatus[domain.PhaseValidation] = domain.StatusNeedsFixes
			w.State = domain.WorkflowPaused
			w.Pending = &domain.PendingInterrupt{
				Type:   "needs_changes",
				Phase:  domain.PhaseValidation,
				Reason: "plan requires changes before re-validation",
			}
			return nil
		}
		if w.ValidationIterations >= domain.MaxValidationIterations {
			w.PhaseStatus[domain.PhaseValidation] = domain.StatusFailed
			w.State = domain.WorkflowFailed
			return nil
		}
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusNeedsFixes
		w.CurrentPhase = domain.PhasePlanning
		w.PhaseStatus[domain.PhasePlanning] = domain.StatusPending

	case domain.DecisionRejected:
		w.PhaseStatus[domain.PhaseValidation] = domain.StatusFailed
		w.State = domain.WorkflowFailed
	}
	return nil
}
