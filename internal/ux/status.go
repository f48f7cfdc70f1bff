package ux

import (
	"fmt"

	"github.com/sahilm/fuzzy"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

var phaseOrder = []domain.Phase{
	domain.PhasePlanning,
	domain.PhaseValidation,
	domain.PhaseImplementation,
	domain.PhaseVerification,
	domain.PhaseCompletion,
}

// RenderStatus prints the full status display for a workflow.
func RenderStatus(w *domain.Workflow) {
	fmt.Printf("%sWorkflow:%s %s\n", Bold, Reset, w.ID)
	fmt.Printf("%sProject:%s  %s\n", Bold, Reset, w.Project)
	fmt.Printf("%sState:%s    %s%s%s\n", Bold, Reset, stateColor(w.State), w.State, Reset)

	fmt.Printf("\n%sPhases:%s\n", Bold, Reset)
	for _, p := range phaseOrder {
		status := w.PhaseStatus[p]
		marker := "  "
		if p == w.CurrentPhase {
			marker = fmt.Sprintf("%s→%s ", Yellow, Reset)
		}
		fmt.Printf("  %s%-14s %s%s%s\n", marker, p, statusColor(status), status, Reset)
	}

	if w.Pending != nil {
		fmt.Printf("\n%sPending:%s %s on %s — %s\n", Yellow, Reset, w.Pending.Type, w.Pending.Phase, w.Pending.Reason)
	}

	fmt.Printf("\n%sIteration:%s %d  %sValidation loops:%s %d  %sVerification attempts:%s %d  %sCheckpoint:%s %d\n",
		Dim, Reset, w.Iteration, Dim, Reset, w.ValidationIterations, Dim, Reset, w.VerificationAttempts, Dim, Reset, w.CheckpointSeq)
}

func stateColor(s domain.WorkflowState) string {
	switch s {
	case domain.WorkflowCompleted:
		return Green
	case domain.WorkflowFailed, domain.WorkflowCancelled:
		return Red
	case domain.WorkflowPaused:
		return Yellow
	default:
		return Reset
	}
}

func statusColor(s domain.PhaseStatus) string {
	switch s {
	case domain.StatusCompleted:
		return Green
	case domain.StatusFailed:
		return Red
	case domain.StatusNeedsFixes, domain.StatusInProgress:
		return Yellow
	default:
		return Dim
	}
}

// FindWorkflow resolves a possibly-partial id or project name against the
// known workflows using fuzzy matching, for a human typing a shorthand at
// the CLI. Returns the best match, or nil if query is empty or nothing
// scores above zero.
func FindWorkflow(query string, workflows []*domain.Workflow) *domain.Workflow {
	if query == "" || len(workflows) == 0 {
		return nil
	}
	for _, w := range workflows {
		if w.ID == query {
			return w
		}
	}

	labels := make([]string, len(workflows))
	for i, w := range workflows {
		labels[i] = w.ID + " " + w.Project
	}
	matches := fuzzy.Find(query, labels)
	if len(matches) == 0 {
		return nil
	}
	return workflows[matches[0].Index]
}
