package phasefsm

import (
	"context"
	"encoding/json"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/task"
)

// implementationResult is one task's contribution to the audit trail —
// recorded so doctor can show what each completed task actually did
// without re-deriving it from the store's task rows.
type implementationResult struct {
	TaskID   string `json:"task_id"`
	Attempts int    `json:"attempts"`
	Worktree string `json:"worktree,omitempty"`
}

func runImplementation(ctx context.Context, w *domain.Workflow, d *Deps) error {
	tasks, err := d.Store.ListTasks(ctx, w.ID)
	if err != nil {
		return err
	}
	taskMap := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		taskMap[t.ID] = t
	}

	dag, err := task.Build(tasks)
	if err != nil {
		return err
	}

	limit := d.Concurrency
	if limit <= 0 {
		limit = 1
	}
	sched := &task.Scheduler{
		DAG:               dag,
		Tasks:             taskMap,
		Worktrees:         d.Worktrees,
		Executor:          &taskExecutor{adapter: d.Adapter, workflowID: w.ID},
		Limit:             limit,
		BaseCommit:        d.BaseCommit,
		IntegrationBranch: w.FeatureBranch,
	}
	schedErr := sched.Run(ctx)

	for _, t := range tasks {
		if saveErr := d.Store.SaveTask(ctx, w.ID, t); saveErr != nil {
			return saveErr
		}
		if t.Status == domain.TaskCompleted {
			payload, _ := json.Marshal(implementationResult{
				TaskID:   t.ID,
				Attempts: t.Attempts,
				Worktree: t.WorktreePath,
			})
			if _, appendErr := d.Store.AppendPhaseOutput(ctx, w.ID, domain.PhaseImplementation, domain.OutputImplementationResult, payload, t.ID); appendErr != nil {
				return appendErr
			}
		}
	}

	var anyFailed bool
	for _, t := range tasks {
		if t.Status == domain.TaskFailed {
			anyFailed = true
		}
	}

	if !anyFailed && schedErr == nil {
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusCompleted
		w.CurrentPhase = domain.PhaseVerification
		w.PhaseStatus[domain.PhaseVerification] = domain.StatusPending
		w.Pending = nil
		return nil
	}

	if w.Mode == domain.ModeAutonomous {
		w.PhaseStatus[domain.PhaseImplementation] = domain.StatusFailed
		w.State = domain.WorkflowFailed
		return nil
	}

	w.PhaseStatus[domain.PhaseImplementation] = domain.StatusNeedsFixes
	w.State = domain.WorkflowPaused
	w.Pending = &domain.PendingInterrupt{
		Type:   "task_failed",
		Phase:  domain.PhaseImplementation,
		Reason: "one or more tasks failed after exhausting retries",
	}
	return nil
}
