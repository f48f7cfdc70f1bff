package phasefsm

import (
	"context"
	"fmt"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/task"
)

// maxPlanParseAttempts is how many times the planning node re-invokes the
// writer agent after a plan fails to parse before giving up. A single bad
// JSON response from an otherwise-healthy agent shouldn't fail the whole
// workflow.
const maxPlanParseAttempts = 3

func runPlanning(ctx context.Context, w *domain.Workflow, d *Deps) error {
	prompt := planningPrompt(w)

	var plan *domain.Plan
	var rawText string
	var parseErr error
	for attempt := 1; attempt <= maxPlanParseAttempts; attempt++ {
		res, err := d.Adapter.Invoke(ctx, agentcli.CapabilityProducePlan, w.ID, "", prompt, d.RepoRoot)
		if err != nil {
			return err
		}
		rawText = res.Text
		plan, parseErr = agentcli.ParsePlan(res.Text)
		if parseErr == nil {
			break
		}
		prompt = planningRetryPrompt(w, parseErr)
	}
	if parseErr != nil {
		return &domain.ClassifiedError{Class: domain.ClassInvalidOutput, Phase: w.CurrentPhase, Code: domain.CodeAgentError, Err: fmt.Errorf("plan did not parse after %d attempts: %w", maxPlanParseAttempts, parseErr)}
	}

	var rawTasks []*domain.Task
	for i := range plan.Tasks {
		rawTasks = append(rawTasks, &plan.Tasks[i])
	}

	var finalTasks []*domain.Task
	for _, t := range rawTasks {
		t.Status = domain.TaskPending
		finalTasks = append(finalTasks, task.Split(t)...)
	}
	for _, t := range finalTasks {
		t.Complexity = task.Score(t)
	}

	if _, err := task.Build(finalTasks); err != nil {
		return err
	}

	for _, t := range finalTasks {
		if err := d.Store.SaveTask(ctx, w.ID, t); err != nil {
			return err
		}
	}

	outputID, err := d.Store.AppendPhaseOutput(ctx, w.ID, domain.PhasePlanning, domain.OutputPlan, []byte(rawText), "writer_agent")
	if err != nil {
		return err
	}

	w.PlanRef = outputID
	if w.PhaseStatus == nil {
		w.PhaseStatus = make(map[domain.Phase]domain.PhaseStatus)
	}
	w.PhaseStatus[domain.PhasePlanning] = domain.StatusCompleted
	w.CurrentPhase = domain.PhaseValidation
	w.PhaseStatus[domain.PhaseValidation] = domain.StatusPending
	w.Pending = nil
	return nil
}

func planningPrompt(w *domain.Workflow) string {
	return fmt.Sprintf("Produce an implementation plan as JSON matching the Conductor plan schema for this feature request:\n\n%s\n", w.FeatureRequest)
}

// planningRetryPrompt re-asks for a plan after a parse failure, quoting
// back what was wrong with the previous response.
func planningRetryPrompt(w *domain.Workflow, parseErr error) string {
	return fmt.Sprintf("%s\nYour previous response did not parse as valid plan JSON: %v\nReturn only the corrected JSON plan, no commentary.", planningPrompt(w), parseErr)
}
