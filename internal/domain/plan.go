package domain

// Plan is the Phase 1 artifact produced by the writer agent.
type Plan struct {
	Feature      FeatureSummary `json:"feature"`
	Tasks        []Task         `json:"tasks"`
	TestStrategy TestStrategy   `json:"test_strategy"`
	Risks        []Risk         `json:"risks"`
}

// FeatureSummary is the top-level description of the plan's feature.
type FeatureSummary struct {
	Name               string   `json:"name" validate:"required,max=100"`
	Summary            string   `json:"summary" validate:"max=500"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// TestStrategy describes the plan's intended test coverage.
type TestStrategy struct {
	Description     string `json:"description"`
	CoverageTarget  int    `json:"coverage_target" validate:"min=0,max=100"`
}

// Risk is a single identified risk with its severity.
type Risk struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity" validate:"required,oneof=high medium low"`
}
