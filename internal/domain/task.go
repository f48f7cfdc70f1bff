package domain

// TaskStatus is the per-task lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskBlocked    TaskStatus = "blocked"
	TaskInProgress TaskStatus = "in_progress"
	TaskRetry      TaskStatus = "retry"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Priority is the priority band assigned by the planner.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Task is a unit of implementation work produced by Planning and consumed
// by Implementation.
type Task struct {
	ID                 string     `json:"id" validate:"required,taskid"`
	Title              string     `json:"title" validate:"required,max=80"`
	UserStory          string     `json:"user_story"`
	AcceptanceCriteria []string   `json:"acceptance_criteria" validate:"max=5"`
	FilesToCreate      []string   `json:"files_to_create" validate:"max=3"`
	FilesToModify      []string   `json:"files_to_modify" validate:"max=5"`
	Dependencies       []string   `json:"dependencies"`
	Priority           Priority   `json:"priority" validate:"required,oneof=critical high medium low"`
	Complexity         float64    `json:"complexity"`
	Status             TaskStatus `json:"status"`
	Attempts           int        `json:"attempts"`
	LastError          string     `json:"last_error,omitempty"`
	WorktreePath       string     `json:"worktree_path,omitempty"`
}

// Files returns the union of files the task touches, used for conflict
// detection by the scheduler.
func (t *Task) Files() []string {
	out := make([]string, 0, len(t.FilesToCreate)+len(t.FilesToModify))
	out = append(out, t.FilesToCreate...)
	out = append(out, t.FilesToModify...)
	return out
}

const (
	// MaxFilesToCreate is the file-create cap that triggers auto-split.
	MaxFilesToCreate = 3
	// MaxFilesToModify is the file-modify cap that triggers auto-split.
	MaxFilesToModify = 5
	// SplitThreshold is the complexity score above which a task must be split.
	SplitThreshold = 5.0
	// MaxTaskAttempts is the retry cap before a task transitions to failed.
	MaxTaskAttempts = 3
)
