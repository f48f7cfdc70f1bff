// Package doctor is a diagnosis helper: gather everything known about
// a stuck or failed workflow — its current phase, the task (if any) that
// failed, recent phase outputs, loop-back counters, and a system-health
// snapshot — and hand it to the configured writer agent for a diagnosis.
package doctor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/store"
	"github.com/conductor-sdlc/conductor/internal/ux"
)

const maxPayloadBytes = 8192

const diagPrompt = `You are diagnosing a stuck or failed conductor workflow. Analyze the context below and provide a concise diagnosis.

## Workflow
%s

## Recent Phase Outputs
%s
%s
## System Health
%s

Instructions:
1. Identify what went wrong from the workflow state and phase outputs.
2. Classify this as a WORKFLOW problem (config, agent binding, budget, four-eyes deadlock) or a CODE problem (the task an agent was implementing).
3. Suggest specific fixes.
4. Recommend the next command to run:
   - conductor resume <id> --action retry   (give the failed task one more attempt)
   - conductor resume <id> --action approve (clear an escalation and continue)
   - conductor rollback <id> --seq N        (rewind to an earlier checkpoint)
   - Fix the underlying issue first, then resume

Be direct and concise. Focus on actionable advice.`

// Run gathers failure context for workflowID and sends it to the
// configured produce_plan-capability agent for diagnosis — that's the
// capability bound to the same general-purpose writer model every other
// narrative-generation step in conductor uses.
func Run(ctx context.Context, st *store.Store, adapter *agentcli.Adapter, workflowID string) error {
	w, err := st.Load(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("loading workflow %s: %w", workflowID, err)
	}
	if w.State != domain.WorkflowFailed && w.State != domain.WorkflowPaused {
		fmt.Println("No failed or paused workflow to diagnose.")
		return nil
	}

	tasks, err := st.ListTasks(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	workflowSection := gatherWorkflow(w)
	taskSection := gatherFailedTask(tasks)
	outputsSection := gatherOutputs(ctx, st, w)
	health := gatherSystemHealth()

	diagText := fmt.Sprintf(diagPrompt, workflowSection, outputsSection, taskSection, health)

	fmt.Printf("\n%s%s== Doctor: diagnosing %s (phase %s) ==%s\n\n",
		ux.Bold, ux.Cyan, w.ID, w.CurrentPhase, ux.Reset)

	result, err := adapter.Invoke(ctx, agentcli.CapabilityProducePlan, w.ID, "", diagText, "")
	if err != nil {
		return fmt.Errorf("running diagnosis agent: %w", err)
	}
	fmt.Println(result.Text)

	fmt.Println()
	ux.ResumeHint(w.ID)
	return nil
}

func gatherWorkflow(w *domain.Workflow) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("ID: %s", w.ID))
	parts = append(parts, fmt.Sprintf("Project: %s", w.Project))
	parts = append(parts, fmt.Sprintf("State: %s", w.State))
	parts = append(parts, fmt.Sprintf("Current phase: %s", w.CurrentPhase))
	parts = append(parts, fmt.Sprintf("Iteration: %d", w.Iteration))
	parts = append(parts, fmt.Sprintf("Validation loop-backs: %d/%d", w.ValidationIterations, domain.MaxValidationIterations))
	parts = append(parts, fmt.Sprintf("Verification loop-backs: %d/%d", w.VerificationAttempts, domain.MaxVerificationAttempts))
	if w.Pending != nil {
		parts = append(parts, fmt.Sprintf("Pending interrupt: %s at %s — %s", w.Pending.Type, w.Pending.Phase, w.Pending.Reason))
		if w.Pending.Context != "" {
			parts = append(parts, fmt.Sprintf("Interrupt context: %s", w.Pending.Context))
		}
	}
	return strings.Join(parts, "\n")
}

func gatherFailedTask(tasks []*domain.Task) string {
	for _, t := range tasks {
		if t.Status != domain.TaskFailed && t.Status != domain.TaskRetry {
			continue
		}
		var parts []string
		parts = append(parts, fmt.Sprintf("\n## Failed Task\nID: %s", t.ID))
		parts = append(parts, fmt.Sprintf("Title: %s", t.Title))
		parts = append(parts, fmt.Sprintf("Attempts: %d/%d", t.Attempts, domain.MaxTaskAttempts))
		if t.LastError != "" {
			parts = append(parts, fmt.Sprintf("Last error: %s", t.LastError))
		}
		if t.WorktreePath != "" {
			parts = append(parts, fmt.Sprintf("Worktree: %s", t.WorktreePath))
		}
		return strings.Join(parts, "\n") + "\n"
	}
	return ""
}

// gatherOutputs pulls the most recent artifact of each output type for the
// current phase only, truncated, so the diagnosis agent sees what the
// workflow was actually working from without the prompt growing
// unbounded.
func gatherOutputs(ctx context.Context, st *store.Store, w *domain.Workflow) string {
	types := outputTypesFor(w.CurrentPhase)
	if len(types) == 0 {
		return "(no phase outputs recorded yet)"
	}
	var parts []string
	for _, typ := range types {
		out, err := st.QueryByType(ctx, w.ID, w.CurrentPhase, typ)
		if err != nil || out == nil {
			continue
		}
		payload := string(out.Payload)
		if len(payload) > maxPayloadBytes {
			payload = payload[:maxPayloadBytes] + "\n... (truncated)"
		}
		parts = append(parts, fmt.Sprintf("--- %s (by %s) ---\n%s", typ, out.ProducingAgent, payload))
	}
	if len(parts) == 0 {
		return "(no phase outputs recorded for the current phase)"
	}
	return strings.Join(parts, "\n\n")
}

func outputTypesFor(phase domain.Phase) []domain.PhaseOutputType {
	switch phase {
	case domain.PhasePlanning:
		return []domain.PhaseOutputType{domain.OutputPlan}
	case domain.PhaseValidation:
		return []domain.PhaseOutputType{domain.OutputSecurityFeedback, domain.OutputArchitectureFeedback, domain.OutputValidationConsolidated}
	case domain.PhaseImplementation:
		return []domain.PhaseOutputType{domain.OutputImplementationResult}
	case domain.PhaseVerification:
		return []domain.PhaseOutputType{domain.OutputSecurityFeedback, domain.OutputArchitectureFeedback, domain.OutputVerificationConsolidated}
	case domain.PhaseCompletion:
		return []domain.PhaseOutputType{domain.OutputCompletionSummary}
	default:
		return nil
	}
}

func gatherSystemHealth() string {
	var parts []string
	if vm, err := mem.VirtualMemory(); err == nil {
		parts = append(parts, fmt.Sprintf("Memory: %.0f/%.0f MB used (%.1f%%)",
			float64(vm.Used)/1024/1024, float64(vm.Total)/1024/1024, vm.UsedPercent))
	}
	if times, err := cpu.Times(false); err == nil && len(times) > 0 {
		t := times[0]
		total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
		if total > 0 {
			parts = append(parts, fmt.Sprintf("CPU idle: %.1f%%", (t.Idle+t.Iowait)/total*100))
		}
	}
	if usage, err := disk.Usage(rootDiskPath()); err == nil {
		parts = append(parts, fmt.Sprintf("Disk: %.0f/%.0f GB used (%.1f%%)",
			float64(usage.Used)/1024/1024/1024, float64(usage.Total)/1024/1024/1024, usage.UsedPercent))
	}
	if avg, err := load.Avg(); err == nil {
		parts = append(parts, fmt.Sprintf("Load average: %.2f, %.2f, %.2f", avg.Load1, avg.Load5, avg.Load15))
	}
	if len(parts) == 0 {
		return "(system health snapshot unavailable on this platform)"
	}
	return strings.Join(parts, "\n")
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
