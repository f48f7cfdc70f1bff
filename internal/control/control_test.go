package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/driver"
	"github.com/conductor-sdlc/conductor/internal/phasefsm"
	"github.com/conductor-sdlc/conductor/internal/store"
)

const planJSON = `{"feature":{"name":"login","summary":"add login","acceptance_criteria":["user can log in"]},"tasks":[{"id":"T1","title":"build login form","priority":"high","files_to_create":["login.go"],"files_to_modify":[]}],"test_strategy":{"coverage_target":80},"risks":[]}`

const approvedArtifact = `{"agent":"security-reviewer","approved":true,"score":9,"assessment":"fine","blocking_issues":[],"recommendations":[]}`

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
	script := "#!/bin/sh\ncat <<'CONDUCTOR_EOF'\n" + string(eventLine) + "\n" + resultLine + "\nCONDUCTOR_EOF\n"
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

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "conductor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	writer := writeFakeAgent(t, dir, "writer", planJSON)
	reviewer := writeFakeAgent(t, dir, "reviewer", approvedArtifact)
	task := writeExitAgent(t, dir, "task-writer", 0)

	d := &driver.Driver{
		Store: s,
		Deps: &phasefsm.Deps{
			Store:       s,
			Concurrency: 1,
			RepoRoot:    dir,
			Adapter: &agentcli.Adapter{
				Configs: map[agentcli.Capability]agentcli.AgentConfig{
					agentcli.CapabilityProducePlan:        {Capability: agentcli.CapabilityProducePlan, Binary: writer},
					agentcli.CapabilityReviewSecurity:     {Capability: agentcli.CapabilityReviewSecurity, Binary: reviewer},
					agentcli.CapabilityReviewArchitecture: {Capability: agentcli.CapabilityReviewArchitecture, Binary: reviewer},
					agentcli.CapabilityImplementTask:      {Capability: agentcli.CapabilityImplementTask, Binary: task},
				},
			},
		},
	}
	return &Surface{Driver: d}
}

func TestSurface_StartRunsWorkflowToCompletion(t *testing.T) {
	ctx := context.Background()
	s := newTestSurface(t)

	resp, exit, err := s.Start(ctx, "wf-1", StartRequest{Project: "acme", FeatureRequest: "add a login page", Autonomous: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !resp.Accepted || resp.WorkflowID != "wf-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if exit != ExitCompleted {
		t.Fatalf("exit = %d, want ExitCompleted", exit)
	}

	status, err := s.Status(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed", status.State)
	}
}

func TestSurface_CancelStopsRunningWorkflow(t *testing.T) {
	ctx := context.Background()
	s := newTestSurface(t)

	w := &domain.Workflow{
		ID:           "wf-cancel",
		CurrentPhase: domain.PhaseImplementation,
		PhaseStatus:  map[domain.Phase]domain.PhaseStatus{domain.PhaseImplementation: domain.StatusInProgress},
		State:        domain.WorkflowRunning,
	}
	if _, err := s.Driver.Store.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	got, exit, err := s.Cancel(ctx, "wf-cancel")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != domain.WorkflowCancelled {
		t.Fatalf("state = %v, want cancelled", got.State)
	}
	if exit != ExitCompleted {
		t.Fatalf("exit = %d, want ExitCompleted (cancellation is not a failure exit)", exit)
	}
}

func TestServer_StartAndStatusEndToEnd(t *testing.T) {
	surface := newTestSurface(t)
	srv := NewServer(surface)

	body, _ := json.Marshal(StartRequest{Project: "acme", FeatureRequest: "add a login page", Autonomous: true})
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-http/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var startResp StartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &startResp); err != nil {
		t.Fatal(err)
	}
	if startResp.WorkflowID != "wf-http" {
		t.Fatalf("workflow id = %q, want wf-http", startResp.WorkflowID)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/workflows/wf-http", nil)
	statusRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("status code = %d, body = %s", statusRec.Code, statusRec.Body.String())
	}
	var statusResp StatusResponse
	if err := json.Unmarshal(statusRec.Body.Bytes(), &statusResp); err != nil {
		t.Fatal(err)
	}
	if statusResp.State != domain.WorkflowCompleted {
		t.Fatalf("state = %v, want completed", statusResp.State)
	}
}

func TestServer_RollbackRejectsBusyWithConflict(t *testing.T) {
	surface := newTestSurface(t)
	ctx := context.Background()

	w := &domain.Workflow{
		ID:           "wf-busy",
		CurrentPhase: domain.PhaseImplementation,
		PhaseStatus:  map[domain.Phase]domain.PhaseStatus{domain.PhaseImplementation: domain.StatusInProgress},
		State:        domain.WorkflowRunning,
	}
	if _, err := surface.Driver.Store.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	task := &domain.Task{ID: "T1", Status: domain.TaskInProgress}
	if err := surface.Driver.Store.SaveTask(ctx, "wf-busy", task); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(surface)
	body, _ := json.Marshal(rollbackRequest{Seq: 1})
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-busy/rollback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 Conflict, body = %s", rec.Code, rec.Body.String())
	}
}

func TestServer_StartRejectsLockedWorkflowWithConflict(t *testing.T) {
	surface := newTestSurface(t)
	ctx := context.Background()

	if err := surface.Driver.Store.AcquireWorkflowLock(ctx, "wf-held", time.Hour); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(surface)
	body, _ := json.Marshal(StartRequest{Project: "acme", FeatureRequest: "add a login page", Autonomous: true})
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-held/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 Conflict, body = %s", rec.Code, rec.Body.String())
	}
}

func TestServer_HealthCheck(t *testing.T) {
	srv := NewServer(&Surface{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
