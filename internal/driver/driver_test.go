package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/phasefsm"
	"github.com/conductor-sdlc/conductor/internal/store"
)

func writeFakeAgent(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	event := map[string]any{
		"type": "stream_event",
		"event": map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": body},
		},
	}
	eventLine, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	resultLine := `{"type":"result","result":{"cost_usd":0.01,"session_id":"s1"}}`
	script := fmt.Sprintf("#!/bin/sh\ncat <<'CONDUCTOR_EOF'\n%s\n%s\nCONDUCTOR_EOF\n", eventLine, resultLine)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeExitAgent(t *testing.T, dir, name string, code int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := fmt.Sprintf("#!/bin/sh\nexit %d\n", code)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "conductor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const planJSON = `{"feature":{"name":"login","summary":"add login","acceptance_criteria":["user can log in"]},"tasks":[{"id":"T1","title":"build login form","priority":"high","files_to_create":["login.go"],"files_to_modify":[]}],"test_strategy":{"coverage_target":80},"risks":[]}`

const approvedArtifact = `{"agent":"security-reviewer","approved":true,"score":9,"assessment":"fine","blocking_issues":[],"recommendations":[]}`

func happyPathAdapter(t *testing.T, dir string) *agentcli.Adapter {
	t.Helper()
	writer := writeFakeAgent(t, dir, "writer", planJSON)
	reviewer := writeFakeAgent(t, dir, "reviewer", approvedArtifact)
	task := writeExitAgent(t, dir, "task-writer", 0)
	return &agentcli.Adapter{
		Configs: map[agentcli.Capability]agentcli.AgentConfig{
			agentcli.CapabilityProducePlan:        {Capability: agentcli.CapabilityProducePlan, Binary: writer},
			agentcli.CapabilityReviewSecurity:     {Capability: agentcli.CapabilityReviewSecurity, Binary: reviewer},
			agentcli.CapabilityReviewArchitecture: {Capability: agentcli.CapabilityReviewArchitecture, Binary: reviewer},
			agentcli.CapabilityImplementTask:      {Capability: agentcli.CapabilityImplementTask, Binary: task},
		},
	}
}

func TestStart_HappyPathRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)
	d := &Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Adapter:     happyPathAdapter(t, dir),
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
		},
	}

	w, err := d.Start(ctx, "wf-1", "acme", "add a login page", domain.ModeAutonomous, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed", w.State)
	}
	if w.CurrentPhase != domain.PhaseCompletion {
		t.Fatalf("phase = %v, want Completion", w.CurrentPhase)
	}
	// Create's initial checkpoint, then one per persisted phase transition:
	// planning, validation, implementation, verification, completion.
	// Retries inside a single node (e.g. planning's parse-fail loop) don't
	// add extra Advance calls, so this count is exact, not a lower bound.
	if w.CheckpointSeq != 6 {
		t.Fatalf("checkpoint seq = %d, want exactly 6 (initial plus one per phase transition)", w.CheckpointSeq)
	}
}

func TestStart_SkipValidationBypassesReviewers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)
	writer := writeFakeAgent(t, dir, "writer", planJSON)
	task := writeExitAgent(t, dir, "task-writer", 0)
	d := &Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Adapter: &agentcli.Adapter{
				Configs: map[agentcli.Capability]agentcli.AgentConfig{
					agentcli.CapabilityProducePlan:   {Capability: agentcli.CapabilityProducePlan, Binary: writer},
					agentcli.CapabilityImplementTask: {Capability: agentcli.CapabilityImplementTask, Binary: task},
				},
			},
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
		},
	}

	w, err := d.Start(ctx, "wf-skip", "acme", "add a login page", domain.ModeAutonomous, Options{SkipValidation: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed (no reviewer binaries configured, so Validation must have been skipped)", w.State)
	}
	if w.PhaseStatus[domain.PhaseValidation] != domain.StatusCompleted {
		t.Fatalf("validation status = %v, want completed", w.PhaseStatus[domain.PhaseValidation])
	}
}

func TestStart_EndPhaseStopsAfterThatPhase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)
	d := &Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Adapter:     happyPathAdapter(t, dir),
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
		},
	}

	w, err := d.Start(ctx, "wf-end", "acme", "add a login page", domain.ModeAutonomous, Options{EndPhase: domain.PhaseValidation})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.State != domain.WorkflowRunning {
		t.Fatalf("state = %v, want running (stopped at end_phase, not failed or completed)", w.State)
	}
	if w.CurrentPhase != domain.PhaseImplementation {
		t.Fatalf("phase = %v, want Implementation (one past the requested end_phase)", w.CurrentPhase)
	}

	resumed, err := d.Start(ctx, "wf-end", "acme", "add a login page", domain.ModeAutonomous, Options{})
	if err != nil {
		t.Fatalf("resuming Start: %v", err)
	}
	if resumed.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed after a follow-up Start with no end_phase", resumed.State)
	}
}

func TestStart_IsIdempotentOnExistingWorkflow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)
	d := &Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Adapter:     happyPathAdapter(t, dir),
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
		},
	}

	first, err := d.Start(ctx, "wf-2", "acme", "add a login page", domain.ModeAutonomous, Options{})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := d.Start(ctx, "wf-2", "different project text", "different feature", domain.ModeInteractive, Options{})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second.ID != first.ID || second.Project != first.Project {
		t.Fatalf("second start mutated identity: first=%+v second=%+v", first, second)
	}
}

func TestStart_RejectsWhenWorkflowLockIsHeld(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)
	d := &Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Adapter:     happyPathAdapter(t, dir),
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
		},
	}

	if err := s.AcquireWorkflowLock(ctx, "wf-locked", time.Hour); err != nil {
		t.Fatal(err)
	}

	_, err := d.Start(ctx, "wf-locked", "acme", "add a login page", domain.ModeAutonomous, Options{})
	if err == nil {
		t.Fatal("expected Start to fail while another holder has the workflow locked")
	}
	cerr, ok := err.(*domain.ClassifiedError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.ClassifiedError", err)
	}
	if cerr.Code != domain.CodeBusy {
		t.Fatalf("code = %q, want %q", cerr.Code, domain.CodeBusy)
	}
}

func TestResume_NoOpWithoutPendingInterrupt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := &Driver{Store: s}

	w := &domain.Workflow{
		ID:           "wf-3",
		CurrentPhase: domain.PhaseCompletion,
		PhaseStatus:  map[domain.Phase]domain.PhaseStatus{domain.PhaseCompletion: domain.StatusCompleted},
		State:        domain.WorkflowCompleted,
	}
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	beforeSeq := w.CheckpointSeq

	got, err := d.Resume(ctx, "wf-3", Decision{Action: "retry"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.CheckpointSeq != beforeSeq {
		t.Fatalf("resume on non-pending workflow mutated checkpoint: before=%d after=%d", beforeSeq, got.CheckpointSeq)
	}
}

func TestResume_EscalationApproveAdvancesPastValidation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)
	adapter := happyPathAdapter(t, dir)
	d := &Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Adapter:     adapter,
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
		},
	}

	w := &domain.Workflow{
		ID:           "wf-4",
		CurrentPhase: domain.PhaseValidation,
		PhaseStatus:  map[domain.Phase]domain.PhaseStatus{domain.PhaseValidation: domain.StatusNeedsFixes},
		Mode:         domain.ModeAutonomous,
		State:        domain.WorkflowPaused,
		Pending: &domain.PendingInterrupt{
			Type:  "escalation",
			Phase: domain.PhaseValidation,
		},
	}
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	got, err := d.Resume(ctx, "wf-4", Decision{Action: "approve"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Pending != nil {
		t.Fatalf("pending interrupt still set after approve: %+v", got.Pending)
	}
	if got.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed (implementation/verification should run to completion)", got.State)
	}
}

func TestResume_AbortFailsWorkflow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := &Driver{Store: s}

	w := &domain.Workflow{
		ID:           "wf-5",
		CurrentPhase: domain.PhaseValidation,
		PhaseStatus:  map[domain.Phase]domain.PhaseStatus{domain.PhaseValidation: domain.StatusNeedsFixes},
		Mode:         domain.ModeInteractive,
		State:        domain.WorkflowPaused,
		Pending: &domain.PendingInterrupt{
			Type:  "needs_changes",
			Phase: domain.PhaseValidation,
		},
	}
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	got, err := d.Resume(ctx, "wf-5", Decision{Action: "abort"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.State != domain.WorkflowFailed {
		t.Fatalf("state = %v, want failed", got.State)
	}
	if got.Pending != nil {
		t.Fatalf("pending interrupt still set after abort: %+v", got.Pending)
	}
}

func TestCancel_StopsRunningWorkflow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := &Driver{Store: s}

	w := &domain.Workflow{
		ID:           "wf-6",
		CurrentPhase: domain.PhaseImplementation,
		PhaseStatus:  map[domain.Phase]domain.PhaseStatus{domain.PhaseImplementation: domain.StatusInProgress},
		State:        domain.WorkflowRunning,
	}
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	got, err := d.Cancel(ctx, "wf-6")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != domain.WorkflowCancelled {
		t.Fatalf("state = %v, want cancelled", got.State)
	}
}
