// Package driver is the top-level loop that repeatedly calls the phase
// state machine, checkpoints the result, and stops at a terminal state
// or a pending interrupt.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/obslog"
	"github.com/conductor-sdlc/conductor/internal/phasefsm"
	"github.com/conductor-sdlc/conductor/internal/store"
)

// defaultMaxIterations is a suggested overall cap (an iteration being
// one Advance call) guarding against livelock across Phase 3/Phase 4
// re-entries, independent of the per-phase loop-back caps. Driver.MaxIterations
// overrides it when a project needs a different bound.
const defaultMaxIterations = 50

// workflowLockTTL bounds how long a crashed driver process can hold a
// workflow lock before another process reclaims it. Long enough to cover
// a slow Implementation fan-out, short enough that a dead process doesn't
// wedge a workflow indefinitely.
const workflowLockTTL = 10 * time.Minute

// Driver owns the store and the dependencies phasefsm nodes need.
type Driver struct {
	Store *store.Store
	Deps  *phasefsm.Deps
	// MaxIterations overrides defaultMaxIterations when nonzero.
	MaxIterations int
	// Logger records one structured line per persisted transition, when
	// set. Left nil in unit tests that don't care about the audit trail.
	Logger *obslog.Logger
}

func (d *Driver) maxIterations() int {
	if d.MaxIterations > 0 {
		return d.MaxIterations
	}
	return defaultMaxIterations
}

// Options customizes a Start call: which phase to begin at, which phase
// to stop after, and whether to skip validation or run autonomously.
type Options struct {
	// StartPhase, if nonzero, begins the workflow past Planning: every
	// phase before it is marked completed (skipped) up front. Use this to
	// resume work already planned outside Conductor.
	StartPhase domain.Phase
	// EndPhase, if nonzero, stops the run after that phase completes
	// without failing or completing the workflow — CurrentPhase simply
	// sits past it, not Terminal, so a later Start with no EndPhase (or a
	// higher one) continues it, reusing Start's existing idempotency.
	EndPhase domain.Phase
	// SkipValidation bypasses Phase 2's reviewer fan-out entirely,
	// treating the plan as pre-approved.
	SkipValidation bool
}

// Start creates a new workflow for project/featureRequest and mode, and
// runs it until it completes, fails, or pauses. Calling Start again with
// the same id never creates a second workflow: it returns the existing
// one, unchanged if it is terminal or paused, and otherwise drives it
// forward from where it stands.
func (d *Driver) Start(ctx context.Context, id, project, featureRequest string, mode domain.ExecutionMode, opts Options) (*domain.Workflow, error) {
	startPhase := opts.StartPhase
	if startPhase == 0 {
		startPhase = domain.PhasePlanning
	}
	status := map[domain.Phase]domain.PhaseStatus{startPhase: domain.StatusPending}
	for p := domain.PhasePlanning; p < startPhase; p++ {
		status[p] = domain.StatusCompleted
	}

	w := &domain.Workflow{
		ID:             id,
		Project:        project,
		FeatureRequest: featureRequest,
		CurrentPhase:   startPhase,
		PhaseStatus:    status,
		Mode:           mode,
		State:          domain.WorkflowRunning,
		// FeatureBranch doubles as the shared git ref implementation tasks
		// integrate their work onto — unique per workflow so two workflows
		// against the same repo never collide.
		FeatureBranch: "conductor/integration/" + id,
	}
	existing, err := d.Store.Create(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("creating workflow %s: %w", id, err)
	}

	if err := d.Store.AcquireWorkflowLock(ctx, existing.ID, workflowLockTTL); err != nil {
		return nil, &domain.ClassifiedError{Class: domain.ClassPolicyViolation, Code: domain.CodeBusy, Err: fmt.Errorf("acquiring lock for workflow %s: %w", existing.ID, err)}
	}
	defer d.Store.ReleaseWorkflowLock(ctx, existing.ID)

	// Create is idempotent: existing is either the just-created row or an
	// untouched prior one. Either way run() is itself a no-op once the
	// workflow is terminal or paused, so driving it forward here is safe
	// and satisfies the "start on an already-started workflow" idempotency
	// property without needing to distinguish the two cases.
	return d.run(ctx, existing, opts.EndPhase, opts.SkipValidation)
}

// run advances w until it is terminal, paused on a pending interrupt,
// past endPhase (if nonzero), or errors. It checkpoints after every
// successful transition.
func (d *Driver) run(ctx context.Context, w *domain.Workflow, endPhase domain.Phase, skipValidation bool) (*domain.Workflow, error) {
	for !w.Terminal(d.maxIterations()) && w.Pending == nil {
		if endPhase != 0 && w.CurrentPhase > endPhase {
			return w, nil
		}
		if ctx.Err() != nil {
			w.State = domain.WorkflowCancelled
			if err := d.persist(ctx, w); err != nil {
				return w, fmt.Errorf("persisting cancelled workflow %s: %w", w.ID, err)
			}
			return w, ctx.Err()
		}

		w.Iteration++
		var advErr error
		if skipValidation && w.CurrentPhase == domain.PhaseValidation {
			skipValidationPhase(w)
		} else {
			advErr = phasefsm.Advance(ctx, w, d.Deps)
		}
		if advErr != nil {
			w.State = domain.WorkflowFailed
			if cerr, ok := advErr.(*domain.ClassifiedError); ok {
				cerr.CheckpointSeq = w.CheckpointSeq
			}
			if saveErr := d.persist(ctx, w); saveErr != nil {
				return w, fmt.Errorf("persisting failed workflow %s: %w (advance error: %v)", w.ID, saveErr, advErr)
			}
			return w, advErr
		}

		if err := d.persist(ctx, w); err != nil {
			return w, fmt.Errorf("persisting workflow %s: %w", w.ID, err)
		}
	}
	return w, nil
}

// skipValidationPhase bypasses the reviewer fan-out for a workflow
// started with SkipValidation, treating Phase 2 as pre-approved.
func skipValidationPhase(w *domain.Workflow) {
	w.PhaseStatus[domain.PhaseValidation] = domain.StatusCompleted
	w.CurrentPhase = domain.PhaseImplementation
	w.PhaseStatus[domain.PhaseImplementation] = domain.StatusPending
}

// Decision is the human input a resumed workflow's pending interrupt
// consumes. Action is interpreted against the interrupt's Type and Phase;
// Note is accepted with the decision but no decision handler reads it.
type Decision struct {
	Action string // "retry" | "approve" | "abort"
	Note   string
}

// Resume loads workflowID, applies decision to its pending interrupt (if
// any — a no-op when there isn't one), and continues the run
// loop.
func (d *Driver) Resume(ctx context.Context, workflowID string, decision Decision) (*domain.Workflow, error) {
	w, err := d.Store.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", workflowID, err)
	}
	if w.Pending == nil {
		return w, nil
	}

	if err := d.Store.AcquireWorkflowLock(ctx, workflowID, workflowLockTTL); err != nil {
		return w, &domain.ClassifiedError{Class: domain.ClassPolicyViolation, Code: domain.CodeBusy, Err: fmt.Errorf("acquiring lock for workflow %s: %w", workflowID, err)}
	}
	defer d.Store.ReleaseWorkflowLock(ctx, workflowID)

	if decision.Action == "retry" && w.Pending.Type == "task_failed" {
		if err := d.reviveFailedTasks(ctx, workflowID); err != nil {
			return w, err
		}
	}

	if err := applyDecision(w, decision); err != nil {
		return w, err
	}
	if err := d.persist(ctx, w); err != nil {
		return w, fmt.Errorf("persisting resumed workflow %s: %w", workflowID, err)
	}
	if w.Pending != nil {
		return w, nil
	}
	return d.run(ctx, w, 0, false)
}

// reviveFailedTasks gives every task that exhausted its automatic retries
// one more attempt, per the human's explicit "retry" decision on a
// task_failed interrupt. A human retry resets the attempt counter rather
// than consuming one of MaxTaskAttempts, since that cap governs automatic
// retries, not human-approved ones.
func (d *Driver) reviveFailedTasks(ctx context.Context, workflowID string) error {
	tasks, err := d.Store.ListTasks(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("listing tasks for %s: %w", workflowID, err)
	}
	for _, t := range tasks {
		if t.Status != domain.TaskFailed {
			continue
		}
		t.Status = domain.TaskPending
		t.Attempts = 0
		t.LastError = ""
		if err := d.Store.SaveTask(ctx, workflowID, t); err != nil {
			return fmt.Errorf("reviving task %s: %w", t.ID, err)
		}
	}
	return nil
}

// Cancel marks a running or paused workflow cancelled. In-flight tasks
// are not interrupted here — phasefsm.Advance observes ctx cancellation
// cooperatively, letting an in-flight task finish rather than tearing
// its worktree down mid-write.
func (d *Driver) Cancel(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	w, err := d.Store.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", workflowID, err)
	}
	if w.State == domain.WorkflowCompleted || w.State == domain.WorkflowFailed || w.State == domain.WorkflowCancelled {
		return w, nil
	}
	w.State = domain.WorkflowCancelled
	if err := d.persist(ctx, w); err != nil {
		return w, fmt.Errorf("persisting cancelled workflow %s: %w", workflowID, err)
	}
	return w, nil
}

// Rollback delegates to the store, rejecting (BUSY) when a task is
// in_progress.
func (d *Driver) Rollback(ctx context.Context, workflowID string, seq int64) (*domain.Workflow, error) {
	return d.Store.Rollback(ctx, workflowID, seq)
}

// persist saves the workflow's full mutable state and then snapshots it
// as the next checkpoint, in that order — Checkpoint only records
// checkpoint_seq on the workflows row, so Save must come first or Load
// would return a stale row even though the snapshot itself is correct.
func (d *Driver) persist(ctx context.Context, w *domain.Workflow) error {
	if err := d.Store.Save(ctx, w); err != nil {
		return err
	}
	_, err := d.Store.Checkpoint(ctx, w)
	if err == nil && d.Logger != nil {
		d.Logger.Transition(w.ID, w.CurrentPhase, w.PhaseStatus[w.CurrentPhase])
	}
	return err
}
