// Package review is the Review Arbiter (C6): it turns the two reviewer
// artifacts a Validation or Verification fan-out produces into a single
// consolidated decision, per a fixed weighted-scoring table.
package review

import "github.com/conductor-sdlc/conductor/internal/domain"

// reviewer identifies one of the two fixed reviewer seats.
type reviewer int

const (
	reviewerSecurity reviewer = iota
	reviewerArchitecture
)

// weights is the fixed kind x reviewer authority table.
var weights = map[domain.FindingKind][2]float64{
	// [security reviewer weight, architecture reviewer weight]
	domain.KindSecurity:     {0.9, 0.1},
	domain.KindArchitecture: {0.3, 0.7},
	domain.KindScalability:  {0.2, 0.8},
	domain.KindCodeQuality:  {0.7, 0.6},
	domain.KindOther:        {0.5, 0.5},
}

func weightFor(kind domain.FindingKind, r reviewer) float64 {
	w, ok := weights[kind]
	if !ok {
		w = weights[domain.KindOther]
	}
	return w[r]
}
