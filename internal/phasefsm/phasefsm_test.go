package phasefsm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/store"
)

// writeFakeAgent writes a shell script that ignores its arguments and
// streams a single stream_event text delta carrying body, followed by a
// terminal result event, mimicking the real CLI's stream-json protocol.
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

func newTestWorkflow(id string) *domain.Workflow {
	return &domain.Workflow{
		ID:              id,
		Project:         "acme",
		FeatureRequest:  "add a login page",
		CurrentPhase:    domain.PhasePlanning,
		PhaseStatus:     map[domain.Phase]domain.PhaseStatus{domain.PhasePlanning: domain.StatusInProgress},
		Mode:            domain.ModeAutonomous,
		State:           domain.WorkflowRunning,
	}
}

const planJSON = `{"feature":{"name":"login","summary":"add login","acceptance_criteria":["user can log in"]},"tasks":[{"id":"T1","title":"build login form","priority":"high","files_to_create":["login.go"],"files_to_modify":[]}],"test_strategy":{"coverage_target":80},"risks":[]}`

func TestRunPlanning_ParsesPlanAndAdvancesToValidation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bin := writeFakeAgent(t, dir, "writer", planJSON)

	s := newTestStore(t)
	w := newTestWorkflow("wf-1")
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	adapter := &agentcli.Adapter{
		Configs: map[agentcli.Capability]agentcli.AgentConfig{
			agentcli.CapabilityProducePlan: {Capability: agentcli.CapabilityProducePlan, Binary: bin},
		},
	}
	d := &Deps{Adapter: adapter, Store: s, RepoRoot: dir}

	if err := runPlanning(ctx, w, d); err != nil {
		t.Fatalf("runPlanning: %v", err)
	}
	if w.CurrentPhase != domain.PhaseValidation {
		t.Fatalf("phase = %v, want Validation", w.CurrentPhase)
	}
	if w.PhaseStatus[domain.PhasePlanning] != domain.StatusCompleted {
		t.Fatalf("planning status = %v", w.PhaseStatus[domain.PhasePlanning])
	}

	tasks, err := s.ListTasks(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != "T1" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

// writeFlakyPlanAgent writes a script that returns unparseable text on its
// first two invocations (counted via a file under dir) and a valid plan on
// the third, to exercise runPlanning's parse-fail retry loop.
func writeFlakyPlanAgent(t *testing.T, dir string) string {
	t.Helper()
	counterPath := filepath.Join(dir, "calls")
	path := filepath.Join(dir, "writer")
	goodEvent := map[string]any{
		"type": "stream_event",
		"event": map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": planJSON},
		},
	}
	goodLine, err := json.Marshal(goodEvent)
	if err != nil {
		t.Fatal(err)
	}
	badEvent := map[string]any{
		"type": "stream_event",
		"event": map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": "not json at all"},
		},
	}
	badLine, err := json.Marshal(badEvent)
	if err != nil {
		t.Fatal(err)
	}
	resultLine := `{"type":"result","result":{"cost_usd":0.01,"session_id":"s1"}}`

	script := fmt.Sprintf(`#!/bin/sh
n=$(cat %[1]q 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > %[1]q
if [ "$n" -lt 3 ]; then
cat <<'CONDUCTOR_EOF'
%[2]s
%[3]s
CONDUCTOR_EOF
else
cat <<'CONDUCTOR_EOF'
%[4]s
%[3]s
CONDUCTOR_EOF
fi
`, counterPath, badLine, resultLine, goodLine)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPlanning_RetriesOnParseFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bin := writeFlakyPlanAgent(t, dir)

	s := newTestStore(t)
	w := newTestWorkflow("wf-retry")
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	adapter := &agentcli.Adapter{
		Configs: map[agentcli.Capability]agentcli.AgentConfig{
			agentcli.CapabilityProducePlan: {Capability: agentcli.CapabilityProducePlan, Binary: bin},
		},
	}
	d := &Deps{Adapter: adapter, Store: s, RepoRoot: dir}

	if err := runPlanning(ctx, w, d); err != nil {
		t.Fatalf("runPlanning: %v", err)
	}
	if w.CurrentPhase != domain.PhaseValidation {
		t.Fatalf("phase = %v, want Validation", w.CurrentPhase)
	}

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	if err != nil {
		t.Fatal(err)
	}
	if string(calls) != "3\n" {
		t.Fatalf("writer agent called %q times, want 3", calls)
	}
}

func TestRunPlanning_FailsAfterMaxParseAttempts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bin := writeFakeAgent(t, dir, "writer", "not json at all")

	s := newTestStore(t)
	w := newTestWorkflow("wf-unparseable")
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	adapter := &agentcli.Adapter{
		Configs: map[agentcli.Capability]agentcli.AgentConfig{
			agentcli.CapabilityProducePlan: {Capability: agentcli.CapabilityProducePlan, Binary: bin},
		},
	}
	d := &Deps{Adapter: adapter, Store: s, RepoRoot: dir}

	err := runPlanning(ctx, w, d)
	if err == nil {
		t.Fatal("expected error after exhausting parse attempts")
	}
	cerr, ok := err.(*domain.ClassifiedError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.ClassifiedError", err)
	}
	if cerr.Class != domain.ClassInvalidOutput {
		t.Fatalf("class = %v, want ClassInvalidOutput", cerr.Class)
	}
}

const approvedArtifact = `{"agent":"security-reviewer","approved":true,"score":9,"assessment":"fine","blocking_issues":[],"recommendations":[]}`

func TestRunValidation_ApprovedAdvancesToImplementation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	secBin := writeFakeAgent(t, dir, "sec", approvedArtifact)
	archBin := writeFakeAgent(t, dir, "arch", approvedArtifact)

	s := newTestStore(t)
	w := newTestWorkflow("wf-2")
	w.CurrentPhase = domain.PhaseValidation
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendPhaseOutput(ctx, w.ID, domain.PhasePlanning, domain.OutputPlan, []byte(planJSON), "writer_agent"); err != nil {
		t.Fatal(err)
	}

	adapter := &agentcli.Adapter{
		Configs: map[agentcli.Capability]agentcli.AgentConfig{
			agentcli.CapabilityReviewSecurity:     {Capability: agentcli.CapabilityReviewSecurity, Binary: secBin},
			agentcli.CapabilityReviewArchitecture: {Capability: agentcli.CapabilityReviewArchitecture, Binary: archBin},
		},
	}
	d := &Deps{Adapter: adapter, Store: s, RepoRoot: dir}

	if err := runValidation(ctx, w, d); err != nil {
		t.Fatalf("runValidation: %v", err)
	}
	if w.CurrentPhase != domain.PhaseImplementation {
		t.Fatalf("phase = %v, want Implementation", w.CurrentPhase)
	}
	if w.PhaseStatus[domain.PhaseValidation] != domain.StatusCompleted {
		t.Fatalf("validation status = %v", w.PhaseStatus[domain.PhaseValidation])
	}
}

func TestRunCompletion_MarksWorkflowCompleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w := newTestWorkflow("wf-3")
	w.CurrentPhase = domain.PhaseCompletion
	w.PhaseStatus[domain.PhaseCompletion] = domain.StatusPending
	if _, err := s.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	d := &Deps{Store: s}
	if err := runCompletion(ctx, w, d); err != nil {
		t.Fatalf("runCompletion: %v", err)
	}
	if w.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed", w.State)
	}
	if w.PhaseStatus[domain.PhaseCompletion] != domain.StatusCompleted {
		t.Fatalf("completion status = %v", w.PhaseStatus[domain.PhaseCompletion])
	}
}
