package review

import (
	"fmt"
	"math"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// domainWinnerBand is how far apart two reviewers' weights on the disputed
// kinds must be before one is considered to clearly own the call.
const domainWinnerBand = 0.4

// phaseThreshold is the combined-score bar a review must clear.
func phaseThreshold(phase domain.Phase) float64 {
	if phase == domain.PhaseVerification {
		return 7.0
	}
	return 6.0
}

// Arbitrate consolidates a security reviewer artifact and an architecture
// reviewer artifact produced by the same fan-out into one ReviewDecision.
// Either argument may be nil to represent a reviewer that never returned
//: the call escalates rather than guessing at a missing verdict.
func Arbitrate(phase domain.Phase, security, architecture *domain.ReviewerArtifact) *domain.ReviewDecision {
	if security == nil || security.Partial || architecture == nil || architecture.Partial {
		missing := "security"
		if security != nil && !security.Partial {
			missing = "architecture"
		}
		return &domain.ReviewDecision{
			Phase:    phase,
			Final:    domain.DecisionEscalated,
			Strategy: "partial_reviewer_missing",
			Partial:  true,
			Missing:  missing,
		}
	}

	decision := &domain.ReviewDecision{
		Phase:                phase,
		SecurityScore:        security.Score,
		SecurityApproved:     security.Approved,
		ArchitectureScore:    architecture.Score,
		ArchitectureApproved: architecture.Approved,
	}

	tagged := taggedIssues(security, architecture)
	for _, ti := range tagged {
		decision.BlockingIssues = append(decision.BlockingIssues, ti.issue)
	}

	if vetoed(tagged) {
		decision.Final = domain.DecisionRejected
		decision.Strategy = "security_veto"
		return decision
	}

	secKind := dominantKind(security, domain.KindSecurity)
	archKind := dominantKind(architecture, domain.KindArchitecture)
	secWeight := weightFor(secKind, reviewerSecurity)
	archWeight := weightFor(archKind, reviewerArchitecture)

	combined := (security.Score*secWeight + architecture.Score*archWeight) / (secWeight + archWeight)
	decision.Strategy = fmt.Sprintf("weighted(sec_kind=%s,arch_kind=%s,combined=%.2f)", secKind, archKind, combined)

	disagree := security.Approved != architecture.Approved
	scoreDelta := math.Abs(security.Score - architecture.Score)
	noClearWinner := math.Abs(secWeight-archWeight) < domainWinnerBand

	if disagree && scoreDelta > 4.0 && noClearWinner {
		decision.Final = domain.DecisionEscalated
		decision.Strategy = "escalated_ambiguous_domain"
		return decision
	}

	lower := math.Min(security.Score, architecture.Score)
	noBlocking := len(tagged) == 0

	var approvedByThreshold bool
	if phase == domain.PhaseVerification {
		approvedByThreshold = security.Score >= phaseThreshold(phase) && architecture.Score >= phaseThreshold(phase)
	} else {
		approvedByThreshold = lower >= phaseThreshold(phase)
	}

	if approvedByThreshold && noBlocking {
		decision.Final = domain.DecisionApproved
		decision.Strategy = "conservative_approved"
		return decision
	}

	decision.Final = domain.DecisionNeedsChanges
	decision.Strategy = "conservative_needs_changes"
	decision.FixTasks = fixTasksFrom(tagged)
	return decision
}

type taggedIssue struct {
	issue    domain.BlockingIssue
	reviewer string
}

func taggedIssues(security, architecture *domain.ReviewerArtifact) []taggedIssue {
	var out []taggedIssue
	secName := reviewerLabel(security, "security_reviewer")
	archName := reviewerLabel(architecture, "architecture_reviewer")
	for _, i := range security.BlockingIssues {
		out = append(out, taggedIssue{issue: i, reviewer: secName})
	}
	for _, i := range architecture.BlockingIssues {
		out = append(out, taggedIssue{issue: i, reviewer: archName})
	}
	return out
}

func reviewerLabel(a *domain.ReviewerArtifact, fallback string) string {
	if a.Agent != "" {
		return a.Agent
	}
	return fallback
}

// vetoed implements the security veto: any critical/high security
// finding from either reviewer rejects outright, no scoring needed.
func vetoed(tagged []taggedIssue) bool {
	for _, ti := range tagged {
		if ti.issue.Kind == domain.KindSecurity && (ti.issue.Severity == domain.SeverityCritical || ti.issue.Severity == domain.SeverityHigh) {
			return true
		}
	}
	return false
}

// dominantKind is the kind a reviewer's own verdict should be weighted
// under: the kind of its most severe blocking issue if it raised one,
// else the reviewer's native domain.
func dominantKind(a *domain.ReviewerArtifact, native domain.FindingKind) domain.FindingKind {
	if len(a.BlockingIssues) == 0 {
		return native
	}
	best := a.BlockingIssues[0]
	for _, i := range a.BlockingIssues[1:] {
		if severityRank(i.Severity) > severityRank(best.Severity) {
			best = i
		}
	}
	return best.Kind
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 4
	case domain.SeverityHigh:
		return 3
	case domain.SeverityMedium:
		return 2
	default:
		return 1
	}
}

func fixTasksFrom(tagged []taggedIssue) []domain.FixTaskSeed {
	seeds := make([]domain.FixTaskSeed, 0, len(tagged))
	for i, ti := range tagged {
		var files []string
		if ti.issue.File != "" {
			files = []string{ti.issue.File}
		}
		seeds = append(seeds, domain.FixTaskSeed{
			ID:             fmt.Sprintf("FIX-%d", i+1),
			Severity:       ti.issue.Severity,
			SourceReviewer: ti.reviewer,
			Files:          files,
			Criterion:      "issue resolved; no regression",
		})
	}
	return seeds
}
