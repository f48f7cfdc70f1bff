package domain

// Severity is the blocking-finding severity band.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// FindingKind classifies a blocking finding for weighting purposes.
type FindingKind string

const (
	KindSecurity     FindingKind = "security"
	KindArchitecture FindingKind = "architecture"
	KindScalability  FindingKind = "scalability"
	KindCodeQuality  FindingKind = "code_quality"
	KindOther        FindingKind = "other"
)

// BlockingIssue is one reviewer-reported blocking finding.
type BlockingIssue struct {
	Severity    Severity    `json:"severity" validate:"required,oneof=critical high medium low"`
	Kind        FindingKind `json:"kind" validate:"required"`
	Location    string      `json:"location,omitempty"`
	File        string      `json:"file,omitempty"`
	Line        int         `json:"line,omitempty"`
	Description string      `json:"description" validate:"required"`
	Fix         string      `json:"fix,omitempty"`
}

// ReviewerArtifact is the structured output of one reviewer agent.
type ReviewerArtifact struct {
	Agent           string          `json:"agent" validate:"required"`
	Phase           Phase           `json:"phase"`
	Approved        bool            `json:"approved"`
	Score           float64         `json:"score" validate:"min=1,max=10"`
	Assessment      string          `json:"assessment"`
	BlockingIssues  []BlockingIssue `json:"blocking_issues"`
	Recommendations []string        `json:"recommendations"`
	Partial         bool            `json:"-"` // set by the adapter when this reviewer's call failed
}

// Decision is the consolidated outcome of the two-reviewer fan-out.
type Decision string

const (
	DecisionApproved    Decision = "approved"
	DecisionNeedsChanges Decision = "needs_changes"
	DecisionRejected    Decision = "rejected"
	DecisionEscalated   Decision = "escalated"
)

// FixTaskSeed is emitted per blocking issue when the decision is
// needs_changes.
type FixTaskSeed struct {
	ID             string   `json:"id"`
	Severity       Severity `json:"severity"`
	SourceReviewer string   `json:"source_reviewer"`
	Files          []string `json:"files"`
	Criterion      string   `json:"criterion"`
}

// ReviewDecision is the arbiter's output over a pair of reviewer artifacts.
type ReviewDecision struct {
	Phase              Phase           `json:"phase"`
	SecurityScore      float64         `json:"security_score"`
	SecurityApproved   bool            `json:"security_approved"`
	ArchitectureScore  float64         `json:"architecture_score"`
	ArchitectureApproved bool          `json:"architecture_approved"`
	BlockingIssues     []BlockingIssue `json:"blocking_issues"`
	Final              Decision        `json:"final"`
	Strategy           string          `json:"strategy"`
	FixTasks           []FixTaskSeed   `json:"fix_tasks,omitempty"`
	Partial            bool            `json:"partial,omitempty"`
	Missing            string          `json:"missing,omitempty"`
}
