package task

import (
	"testing"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

func TestScore_PureCRUDWithClearCriteriaStaysLow(t *testing.T) {
	tk := &domain.Task{
		Title:              "Add a delete endpoint for widgets",
		FilesToModify:      []string{"internal/api/widgets.go"},
		AcceptanceCriteria: []string{"DELETE /widgets/{id} returns 204 on success"},
	}
	if got := Score(tk); got > domain.SplitThreshold {
		t.Fatalf("Score() = %v, want <= %v", got, domain.SplitThreshold)
	}
	if NeedsSplit(tk) {
		t.Fatal("NeedsSplit() = true for a simple CRUD task")
	}
}

func TestScore_AlgorithmicCrossLayerVagueCriteriaNeedsSplit(t *testing.T) {
	tk := &domain.Task{
		Title:         "Optimize the scheduling algorithm",
		FilesToModify: []string{"internal/data/models.go", "internal/service/api.go", "internal/ui/view.go"},
	}
	if !NeedsSplit(tk) {
		t.Fatalf("Score() = %v, want > %v", Score(tk), domain.SplitThreshold)
	}
}

func TestNeedsSplit_TriggersOnFileCapAloneEvenWithLowScore(t *testing.T) {
	tk := &domain.Task{
		Title:              "Rename four config fields",
		FilesToModify:      []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"},
		AcceptanceCriteria: []string{"all references renamed consistently across the module"},
	}
	if !NeedsSplit(tk) {
		t.Fatal("NeedsSplit() = false, want true when files_to_modify exceeds the cap")
	}
}

func TestUncertaintyWeight_EmptyCriteriaScoresMax(t *testing.T) {
	tk := &domain.Task{Title: "Add logging"}
	if got := uncertaintyWeight(tk); got != 2 {
		t.Fatalf("uncertaintyWeight() = %v, want 2", got)
	}
}
