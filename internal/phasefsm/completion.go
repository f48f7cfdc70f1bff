package phasefsm

import (
	"context"
	"encoding/json"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

type completionSummary struct {
	Project      string `json:"project"`
	TasksTotal   int    `json:"tasks_total"`
	TasksFailed  int    `json:"tasks_failed"`
	ValidationIt int    `json:"validation_iterations"`
	VerifyAtt    int    `json:"verification_attempts"`
}

// runCompletion closes out the workflow: it records a terminal summary as
// a phase output and marks the workflow completed. There is nothing left
// to decide here, so it never fails on anything but a store error.
func runCompletion(ctx context.Context, w *domain.Workflow, d *Deps) error {
	tasks, err := d.Store.ListTasks(ctx, w.ID)
	if err != nil {
		return err
	}
	var failed int
	for _, t := range tasks {
		if t.Status == domain.TaskFailed {
			failed++
		}
	}

	summary := completionSummary{
		Project:      w.Project,
		TasksTotal:   len(tasks),
		TasksFailed:  failed,
		ValidationIt: w.ValidationIterations,
		VerifyAtt:    w.VerificationAttempts,
	}
	payload, _ := json.Marshal(summary)
	if _, err := d.Store.AppendPhaseOutput(ctx, w.ID, domain.PhaseCompletion, domain.OutputCompletionSummary, payload, "conductor"); err != nil {
		return err
	}

	w.PhaseStatus[domain.PhaseCompletion] = domain.StatusCompleted
	w.State = domain.WorkflowCompleted
	w.Pending = nil
	return nil
}
