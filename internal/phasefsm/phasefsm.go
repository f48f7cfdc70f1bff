// Package phasefsm is the phase state machine: a fixed five-node graph,
// its conditional edges, and its two suspension points (pending_interrupt
// and ordinary transition). Each node mutates the Workflow it is given;
// it never persists anything itself — that is the driver's job, split
// the same way a run loop and its save step are usually split.
package phasefsm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/review"
	"github.com/conductor-sdlc/conductor/internal/store"
	"github.com/conductor-sdlc/conductor/internal/task"
	"github.com/conductor-sdlc/conductor/internal/worktree"
)

// Deps bundles every collaborator a node may need. Nil fields are only
// tolerated by nodes that do not reach them (useful in unit tests that
// exercise a single node).
type Deps struct {
	Adapter     *agentcli.Adapter
	Store       *store.Store
	Worktrees   *worktree.Manager
	Concurrency int64
	RepoRoot    string // working directory for plan/review invocations, which read the repo directly
	BaseCommit  string // commit the workflow's integration branch is created at; task worktrees are cut from that branch
	Display     io.Writer
}

// Advance runs exactly the node for w.CurrentPhase once. On success w is
// mutated in place (new phase, phase status, pending interrupt, terminal
// state) and the caller persists it. A non-nil error is either a
// ClassifiedError or an unclassified error passed up from the adapter,
// the store, or task-graph validation; the driver fails the workflow on
// either kind.
func Advance(ctx context.Context, w *domain.Workflow, d *Deps) error {
	switch w.CurrentPhase {
	case domain.PhasePlanning:
		return runPlanning(ctx, w, d)
	case domain.PhaseValidation:
		return runValidation(ctx, w, d)
	case domain.PhaseImplementation:
		return runImplementation(ctx, w, d)
	case domain.PhaseVerification:
		return runVerification(ctx, w, d)
	case domain.PhaseCompletion:
		return runCompletion(ctx, w, d)
	default:
		return &domain.ClassifiedError{
			Class: domain.ClassProtocolViolation,
			Phase: w.CurrentPhase,
			Err:   fmt.Errorf("unknown phase %d", w.CurrentPhase),
		}
	}
}

// dispatchReviewers runs the security and architecture reviewer
// capabilities concurrently over the same prompt/workDir, tolerating one
// side failing without canceling the other: the arbiter receives a
// Partial artifact for whichever side failed instead of losing the run.
func dispatchReviewers(ctx context.Context, d *Deps, workflowID, taskID, prompt, workDir string) (*domain.ReviewerArtifact, *domain.ReviewerArtifact) {
	type result struct {
		artifact *domain.ReviewerArtifact
		missing  bool
	}
	secCh := make(chan result, 1)
	archCh := make(chan result, 1)

	go func() {
		secCh <- result{artifact: invokeReviewer(ctx, d, agentcli.CapabilityReviewSecurity, workflowID, taskID, prompt, workDir)}
	}()
	go func() {
		archCh <- result{artifact: invokeReviewer(ctx, d, agentcli.CapabilityReviewArchitecture, workflowID, taskID, prompt, workDir)}
	}()

	secRes, archRes := <-secCh, <-archCh
	return secRes.artifact, archRes.artifact
}

// recordReviewerArtifacts appends each non-partial reviewer's raw output
// to the audit trail, keyed by phase, so doctor and a later rollback see
// what each reviewer actually said rather than only the arbiter's
// consolidated decision.
func recordReviewerArtifacts(ctx context.Context, d *Deps, workflowID string, phase domain.Phase, sec, arch *domain.ReviewerArtifact) error {
	if sec != nil && !sec.Partial {
		payload, _ := json.Marshal(sec)
		if _, err := d.Store.AppendPhaseOutput(ctx, workflowID, phase, domain.OutputSecurityFeedback, payload, sec.Agent); err != nil {
			return err
		}
	}
	if arch != nil && !arch.Partial {
		payload, _ := json.Marshal(arch)
		if _, err := d.Store.AppendPhaseOutput(ctx, workflowID, phase, domain.OutputArchitectureFeedback, payload, arch.Agent); err != nil {
			return err
		}
	}
	return nil
}

// invokeReviewer runs one reviewer capability and returns a Partial
// artifact on any failure rather than propagating the error, so the
// arbiter (not the driver) owns the partial-reviewer decision.
func invokeReviewer(ctx context.Context, d *Deps, cap agentcli.Capability, workflowID, taskID, prompt, workDir string) *domain.ReviewerArtifact {
	cfg, ok := d.Adapter.Configs[cap]
	res, err := d.Adapter.Invoke(ctx, cap, workflowID, taskID, prompt, workDir)
	if err != nil || res == nil {
		return &domain.ReviewerArtifact{Partial: true}
	}
	artifact, err := agentcli.ParseReviewerArtifact(res.Text, ok && cfg.StripFence)
	if err != nil {
		return &domain.ReviewerArtifact{Partial: true}
	}
	return artifact
}

// taskExecutor adapts agentcli.Adapter to task.Executor, so Implementation
// can drive the scheduler over real writer-agent invocations.
type taskExecutor struct {
	adapter    *agentcli.Adapter
	workflowID string
}

func (e *taskExecutor) Execute(ctx context.Context, t *domain.Task, wt *worktree.Worktree) error {
	workDir := ""
	if wt != nil {
		workDir = wt.Path
		t.WorktreePath = wt.Path
	}
	prompt := implementationPrompt(t)
	res, err := e.adapter.Invoke(ctx, agentcli.CapabilityImplementTask, e.workflowID, t.ID, prompt, workDir)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("writer agent exited %d for task %s", res.ExitCode, t.ID)
	}
	return nil
}

func implementationPrompt(t *domain.Task) string {
	return fmt.Sprintf(
		"Implement task %s under a strict TDD contract: write a failing test for each acceptance criterion, then the minimal code to pass it.\nTitle: %s\nUser story: %s\nFiles to create: %v\nFiles to modify: %v\nAcceptance criteria: %v\n",
		t.ID, t.Title, t.UserStory, t.FilesToCreate, t.FilesToModify, t.AcceptanceCriteria)
}
