package phasefsm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/review"
)

func runVerification(ctx context.Context, w *domain.Workflow, d *Deps) error {
	tasks, err := d.Store.ListTasks(ctx, w.ID)
	if err != nil {
		return err
	}
	prompt := verificationPrompt(w, tasks)

	sec, arch := dispatchReviewers(ctx, d, w.ID, "", prompt, d.RepoRoot)
	if err := recordReviewerArtifacts(ctx, d, w.ID, domain.PhaseVerification, sec, arch); err != nil {
		return err
	}
	decision := review.Arbitrate(domain.PhaseVerification, sec, arch)

	payload, _ := json.Marshal(decision)
	if _, err := d.Store.AppendPhaseOutput(ctx, w.ID, domain.PhaseVerification, domain.OutputVerificationConsolidated, payload, "review_arbiter"); err != nil {
		return err
	}

	switch decision.Final {
	case domain.DecisionApproved:
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusCompleted
		w.CurrentPhase = domain.PhaseCompletion
		w.PhaseStatus[domain.PhaseCompletion] = domain.StatusPending
		w.Pending = nil

	case domain.DecisionEscalated:
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusNeedsFixes
		w.State = domain.WorkflowPaused
		w.Pending = &domain.PendingInterrupt{
			Type:   "escalation",
			Phase:  domain.PhaseVerification,
			Reason: "reviewers disagree with no clear domain winner",
		}

	case domain.DecisionNeedsChanges:
		w.VerificationAttempts++
		if w.VerificationAttempts > domain.MaxVerificationAttempts {
			w.PhaseStatus[domain.PhaseVerification] = domain.StatusFailed
			w.State = domain.WorkflowFailed
			return nil
		}
		if err := seedFixTasks(ctx, w, d, decision.FixTasks); err != nil {
			return err
		}
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusNeedsFixes
		w.CurrentPhase = domain.PhaseImplementation
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusPending

	case domain.DecisionRejected:
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusFailed
		w.State = domain.WorkflowFailed
	}
	return nil
}

// seedFixTasks turns each fix-task seed the arbiter emitted into a pending
// task so the next Implementation pass picks it up.
func seedFixTasks(ctx context.Context, w *domain.Workflow, d *Deps, seeds []domain.FixTaskSeed) error {
	for _, s := range seeds {
		t := &domain.Task{
			ID:                 s.ID,
			Title:              fmt.Sprintf("Fix: %s", s.Criterion),
			AcceptanceCriteria: []string{s.Criterion},
			FilesToModify:      s.Files,
			Priority:           domain.PriorityHigh,
			Status:             domain.TaskPending,
		}
		if err := d.Store.SaveTask(ctx, w.ID, t); err != nil {
			return err
		}
	}
	return nil
}

func verificationPrompt(w *domain.Workflow, tasks []*domain.Task) string {
	return fmt.Sprintf("Review the complete change set implementing feature %q across %d tasks for correctness, security, and architecture.\n", w.FeatureRequest, len(tasks))
}
