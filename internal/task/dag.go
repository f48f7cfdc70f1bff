package task

import (
	"fmt"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// DAG is a validated, acyclic dependency graph over a task set.
type DAG struct {
	Tasks map[string]*domain.Task
	edges map[string][]string // taskID -> dependency ids
}

// Build constructs a DAG from a task list, inserting implicit dependencies
// (task A creates a file task B modifies gets an A->B edge even if the
// plan omitted it) and rejecting cycles with CYCLE_DETECTED.
func Build(tasks []*domain.Task) (*DAG, error) {
	d := &DAG{Tasks: make(map[string]*domain.Task, len(tasks)), edges: make(map[string][]string, len(tasks))}
	for _, t := range tasks {
		d.Tasks[t.ID] = t
		d.edges[t.ID] = append([]string(nil), t.Dependencies...)
	}

	d.insertImplicitEdges()

	if cyc := d.findCycle(); cyc != nil {
		return nil, &domain.ClassifiedError{
			Class: domain.ClassProtocolViolation,
			Code:  domain.CodeCycleDetected,
			Err:   fmt.Errorf("cycle detected among tasks: %v", cyc),
		}
	}
	return d, nil
}

// insertImplicitEdges adds an edge creator->modifier whenever one task
// creates a file that another modifies.
func (d *DAG) insertImplicitEdges() {
	creators := make(map[string]string) // file -> creating task id
	for id, t := range d.Tasks {
		for _, f := range t.FilesToCreate {
			creators[f] = id
		}
	}
	for id, t := range d.Tasks {
		for _, f := range t.FilesToModify {
			if creator, ok := creators[f]; ok && creator != id {
				if !contains(d.edges[id], creator) {
					d.edges[id] = append(d.edges[id], creator)
				}
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// findCycle returns a cycle's member ids if one exists, else nil.
func (d *DAG) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Tasks))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range d.edges[id] {
			if color[dep] == gray {
				cycle = append([]string(nil), path...)
				return true
			}
			if color[dep] == white {
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for id := range d.Tasks {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopoOrder returns task ids in a valid topological order (dependencies
// before dependents). Ties are broken by id for determinism.
func (d *DAG) TopoOrder() []string {
	var order []string
	visited := make(map[string]bool)
	ids := sortedKeys(d.Tasks)

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range sortedStrings(d.edges[id]) {
			visit(dep)
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}

// Ready returns ids of tasks whose every dependency is completed and whose
// own status is pending, blocked, or awaiting retry.
func (d *DAG) Ready(tasks map[string]*domain.Task) []string {
	var ready []string
	for _, id := range sortedKeys(d.Tasks) {
		t := tasks[id]
		if t.Status != domain.TaskPending && t.Status != domain.TaskBlocked && t.Status != domain.TaskRetry {
			continue
		}
		if d.dependenciesComplete(id, tasks) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (d *DAG) dependenciesComplete(id string, tasks map[string]*domain.Task) bool {
	for _, dep := range d.edges[id] {
		if tasks[dep] == nil || tasks[dep].Status != domain.TaskCompleted {
			return false
		}
	}
	return true
}
