// Package control is the external interface surface: the five
// idempotent operations — start, resume, status, rollback, cancel —
// exposed first as plain Go functions over a driver.Driver, then as an
// HTTP API for CLIs and dashboards.
package control

import (
	"context"
	"fmt"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/driver"
)

// ExitCode maps a workflow's resting state to a CLI exit code.
type ExitCode int

const (
	ExitCompleted        ExitCode = 0
	ExitPausedForInput   ExitCode = 2
	ExitFailed           ExitCode = 3
	ExitBudgetExceeded   ExitCode = 4
	ExitStorageUnavailable ExitCode = 5
	ExitBusy             ExitCode = 6
)

// Surface wires the five control operations to a Driver.
type Surface struct {
	Driver *driver.Driver
}

// StartRequest is the input to Start.
type StartRequest struct {
	Project          string
	FeatureRequest   string
	StartPhase       domain.Phase
	EndPhase         domain.Phase
	SkipValidation   bool
	Autonomous       bool
}

// StartResponse reports whether the workflow was accepted and its id.
type StartResponse struct {
	Accepted   bool   `json:"accepted"`
	WorkflowID string `json:"workflow_id"`
}

// Start creates (or idempotently fetches) a workflow and runs it to its
// first resting point.
func (s *Surface) Start(ctx context.Context, id string, req StartRequest) (*StartResponse, ExitCode, error) {
	mode := domain.ModeInteractive
	if req.Autonomous {
		mode = domain.ModeAutonomous
	}
	opts := driver.Options{
		StartPhase:     req.StartPhase,
		EndPhase:       req.EndPhase,
		SkipValidation: req.SkipValidation,
	}
	w, err := s.Driver.Start(ctx, id, req.Project, req.FeatureRequest, mode, opts)
	if err != nil {
		return nil, exitCodeFor(w, err), err
	}
	return &StartResponse{Accepted: true, WorkflowID: w.ID}, exitCodeFor(w, nil), nil
}

// ResumeRequest carries the human decision for a paused workflow.
type ResumeRequest struct {
	Decision driver.Decision
}

// Resume continues a paused workflow. A workflow with no pending
// interrupt is untouched — resuming is a no-op in that case.
func (s *Surface) Resume(ctx context.Context, workflowID string, req ResumeRequest) (*domain.Workflow, ExitCode, error) {
	w, err := s.Driver.Resume(ctx, workflowID, req.Decision)
	return w, exitCodeFor(w, err), err
}

// StatusResponse reports current phase, per-phase status, any pending
// interrupt, and iteration counters.
type StatusResponse struct {
	WorkflowID           string                               `json:"workflow_id"`
	CurrentPhase         domain.Phase                         `json:"current_phase"`
	PhaseStatus          map[domain.Phase]domain.PhaseStatus   `json:"phase_status"`
	State                domain.WorkflowState                 `json:"state"`
	Pending              *domain.PendingInterrupt             `json:"pending_interrupt,omitempty"`
	Iteration            int                                  `json:"iteration"`
	ValidationIterations int                                  `json:"validation_iterations"`
	VerificationAttempts int                                  `json:"verification_attempts"`
	CheckpointSeq        int64                                `json:"checkpoint_seq"`
}

// Status reports a workflow's current resting state without mutating it.
func (s *Surface) Status(ctx context.Context, workflowID string) (*StatusResponse, error) {
	w, err := s.Driver.Store.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", workflowID, err)
	}
	return &StatusResponse{
		WorkflowID:           w.ID,
		CurrentPhase:         w.CurrentPhase,
		PhaseStatus:          w.PhaseStatus,
		State:                w.State,
		Pending:              w.Pending,
		Iteration:            w.Iteration,
		ValidationIterations: w.ValidationIterations,
		VerificationAttempts: w.VerificationAttempts,
		CheckpointSeq:        w.CheckpointSeq,
	}, nil
}

// Rollback re-points workflowID at checkpoint seq. Rejected with BUSY
// (via the returned error) when a task is in_progress.
func (s *Surface) Rollback(ctx context.Context, workflowID string, seq int64) (*domain.Workflow, error) {
	return s.Driver.Rollback(ctx, workflowID, seq)
}

// Cancel cooperatively stops a workflow.
func (s *Surface) Cancel(ctx context.Context, workflowID string) (*domain.Workflow, ExitCode, error) {
	w, err := s.Driver.Cancel(ctx, workflowID)
	return w, exitCodeFor(w, err), err
}

func exitCodeFor(w *domain.Workflow, err error) ExitCode {
	if cerr, ok := err.(*domain.ClassifiedError); ok {
		switch cerr.Code {
		case domain.CodeBudgetExceeded:
			return ExitBudgetExceeded
		case domain.CodeStorageUnavailable:
			return ExitStorageUnavailable
		case domain.CodeBusy:
			return ExitBusy
		}
	}
	if err != nil {
		return ExitFailed
	}
	if w == nil {
		return ExitFailed
	}
	switch w.State {
	case domain.WorkflowCompleted:
		return ExitCompleted
	case domain.WorkflowPaused:
		return ExitPausedForInput
	case domain.WorkflowFailed:
		return ExitFailed
	default:
		return ExitCompleted
	}
}
