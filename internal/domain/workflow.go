// Package domain holds the entities shared across the orchestration core:
// workflows, phase outputs, tasks, review decisions, checkpoints and budget
// records. None of these types know how to persist themselves — that is
// the store's job.
package domain

import "time"

// Phase identifies one of the five ordered lifecycle nodes.
type Phase int

const (
	PhasePlanning Phase = iota + 1
	PhaseValidation
	PhaseImplementation
	PhaseVerification
	PhaseCompletion
)

func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "planning"
	case PhaseValidation:
		return "validation"
	case PhaseImplementation:
		return "implementation"
	case PhaseVerification:
		return "verification"
	case PhaseCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// PhaseStatus is the per-phase status recorded on a Workflow.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
	StatusNeedsFixes PhaseStatus = "needs_fixes"
)

// ExecutionMode selects whether Phase 2 needs_changes outcomes pause for a
// human or loop automatically.
type ExecutionMode string

const (
	ModeInteractive ExecutionMode = "interactive"
	ModeAutonomous  ExecutionMode = "autonomous"
)

// WorkflowState is the terminal lifecycle state of a Workflow, distinct
// from per-phase status.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowPaused    WorkflowState = "paused"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// PendingInterrupt is a persisted record that a workflow is paused awaiting
// an external decision. It is reconstructable from the store alone — no
// coroutine or channel carries the suspension.
type PendingInterrupt struct {
	Type    string `json:"type"` // "escalation" | "needs_changes" | "task_failed"
	Phase   Phase  `json:"phase"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}

// Workflow is a single run of the five-phase lifecycle for one feature.
type Workflow struct {
	ID               string            `json:"id"`
	Project          string            `json:"project"`
	FeatureRequest   string            `json:"feature_request"`
	CurrentPhase     Phase             `json:"current_phase"`
	PhaseStatus      map[Phase]PhaseStatus `json:"phase_status"`
	Mode             ExecutionMode     `json:"mode"`
	PlanRef          string            `json:"plan_ref,omitempty"`
	TaskSetRef       string            `json:"task_set_ref,omitempty"`
	Pending          *PendingInterrupt `json:"pending_interrupt,omitempty"`
	Iteration        int               `json:"iteration"`
	FeatureBranch    string            `json:"feature_branch"`
	State            WorkflowState     `json:"state"`
	CheckpointSeq    int64             `json:"checkpoint_seq"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// ValidationIterations counts Phase-1<->Phase-2 loop-backs (three
	// strikes in either mode before the workflow fails).
	ValidationIterations int `json:"validation_iterations"`
	// VerificationAttempts counts Phase-3<->Phase-4 loop-backs (a
	// needs_changes that takes it past 3 fails the workflow; a rejection
	// fails it at once).
	VerificationAttempts int `json:"verification_attempts"`
}

// MaxValidationIterations and MaxVerificationAttempts are the loop-back
// caps governing Phase 1/2 and Phase 3/4 re-entry.
const (
	MaxValidationIterations = 3
	MaxVerificationAttempts = 3
)

// Terminal reports whether the workflow has reached a state from which the
// driver will no longer advance it.
func (w *Workflow) Terminal(iterationCap int) bool {
	if w.State == WorkflowCompleted || w.State == WorkflowFailed || w.State == WorkflowCancelled {
		return true
	}
	if iterationCap > 0 && w.Iteration >= iterationCap {
		return true
	}
	return w.CurrentPhase == PhaseCompletion && w.PhaseStatus[PhaseCompletion] == StatusCompleted
}

// PhaseOutputType enumerates the artifact kinds the state machine produces.
type PhaseOutputType string

const (
	OutputPlan                     PhaseOutputType = "plan"
	OutputImplementationResult     PhaseOutputType = "implementation_result"
	OutputSecurityFeedback         PhaseOutputType = "security_feedback"
	OutputArchitectureFeedback     PhaseOutputType = "architecture_feedback"
	OutputValidationConsolidated   PhaseOutputType = "validation_consolidated"
	OutputVerificationConsolidated PhaseOutputType = "verification_consolidated"
	OutputCompletionSummary        PhaseOutputType = "completion_summary"
)

// PhaseOutput is an opaque, typed, append-only artifact.
type PhaseOutput struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	Phase          Phase           `json:"phase"`
	Type           PhaseOutputType `json:"type"`
	Payload        []byte          `json:"payload"`
	ProducingAgent string          `json:"producing_agent"`
	CreatedAt      time.Time       `json:"created_at"`
	Seq            int64           `json:"seq"`
}

// Checkpoint is an immutable snapshot of a Workflow taken after every
// state-machine transition.
type Checkpoint struct {
	WorkflowID string    `json:"workflow_id"`
	Seq        int64     `json:"seq"`
	Snapshot   []byte    `json:"snapshot"` // JSON-encoded Workflow
	CreatedAt  time.Time `json:"created_at"`
}

// BudgetRecord is a per-invocation cost line.
type BudgetRecord struct {
	WorkflowID string        `json:"workflow_id"`
	TaskID     string        `json:"task_id,omitempty"`
	AgentID    string        `json:"agent_id"`
	CostUnits  float64       `json:"cost_units"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}
