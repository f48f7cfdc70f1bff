package task

import (
	"testing"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

func TestBuild_InsertsImplicitEdgeWhenModifierDependsOnCreator(t *testing.T) {
	creator := &domain.Task{ID: "T1", Title: "Create config loader", FilesToCreate: []string{"config.go"}, Status: domain.TaskPending}
	modifier := &domain.Task{ID: "T2", Title: "Add validation to config loader", FilesToModify: []string{"config.go"}, Status: domain.TaskPending}

	d, err := Build([]*domain.Task{modifier, creator})
	if err != nil {
		t.Fatal(err)
	}

	tasks := map[string]*domain.Task{"T1": creator, "T2": modifier}
	ready := d.Ready(tasks)
	if len(ready) != 1 || ready[0] != "T1" {
		t.Fatalf("Ready() = %v, want only T1 (T2 implicitly depends on it)", ready)
	}

	creator.Status = domain.TaskCompleted
	ready = d.Ready(tasks)
	if len(ready) != 1 || ready[0] != "T2" {
		t.Fatalf("Ready() after T1 completes = %v, want [T2]", ready)
	}
}

func TestBuild_RejectsCycle(t *testing.T) {
	a := &domain.Task{ID: "A", Title: "a", Dependencies: []string{"B"}}
	b := &domain.Task{ID: "B", Title: "b", Dependencies: []string{"A"}}

	_, err := Build([]*domain.Task{a, b})
	if err == nil {
		t.Fatal("expected a cycle detection error")
	}
	cerr, ok := err.(*domain.ClassifiedError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.ClassifiedError", err)
	}
	if cerr.Code != domain.CodeCycleDetected {
		t.Fatalf("code = %q, want %q", cerr.Code, domain.CodeCycleDetected)
	}
}

func TestTopoOrder_DependenciesPrecedeDependents(t *testing.T) {
	a := &domain.Task{ID: "A", Title: "a"}
	b := &domain.Task{ID: "B", Title: "b", Dependencies: []string{"A"}}
	c := &domain.Task{ID: "C", Title: "c", Dependencies: []string{"B"}}

	d, err := Build([]*domain.Task{c, a, b})
	if err != nil {
		t.Fatal(err)
	}
	order := d.TopoOrder()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["A"] < pos["B"] && pos["B"] < pos["C"]) {
		t.Fatalf("order = %v, want A before B before C", order)
	}
}

func TestReady_ExcludesTasksWithIncompleteDependencies(t *testing.T) {
	a := &domain.Task{ID: "A", Title: "a", Status: domain.TaskInProgress}
	b := &domain.Task{ID: "B", Title: "b", Dependencies: []string{"A"}, Status: domain.TaskPending}

	d, err := Build([]*domain.Task{a, b})
	if err != nil {
		t.Fatal(err)
	}
	tasks := map[string]*domain.Task{"A": a, "B": b}
	ready := d.Ready(tasks)
	if len(ready) != 0 {
		t.Fatalf("Ready() = %v, want none while A is in_progress", ready)
	}
}
