// Package task is the Task Lifecycle Engine (C5): DAG build/validate,
// complexity scoring, auto-split, status transitions, and conflict-aware
// parallel scheduling.
package task

import (
	"regexp"
	"strings"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// Score computes a task's complexity:
//
//	score = 0.5*files_touched + dependency_breadth + semantic_weight + uncertainty_weight
func Score(t *domain.Task) float64 {
	filesTouched := float64(len(t.FilesToCreate) + len(t.FilesToModify))
	return 0.5*filesTouched + dependencyBreadth(t) + semanticWeight(t) + uncertaintyWeight(t)
}

// dependencyBreadth estimates cross-layer impact in [0,2] from the files a
// task touches spanning data/service/UI directory conventions.
func dependencyBreadth(t *domain.Task) float64 {
	layers := map[string]bool{}
	for _, f := range t.Files() {
		layers[classifyLayer(f)] = true
	}
	switch len(layers) {
	case 0, 1:
		return 0
	case 2:
		return 1
	default:
		return 2
	}
}

func classifyLayer(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "model") || strings.Contains(lower, "migration") || strings.Contains(lower, "schema") || strings.Contains(lower, "/data/"):
		return "data"
	case strings.Contains(lower, "ui") || strings.Contains(lower, "view") || strings.Contains(lower, "component") || strings.Contains(lower, "page"):
		return "ui"
	default:
		return "service"
	}
}

var algorithmicVerbs = regexp.MustCompile(`(?i)\b(optimi[sz]e|algorithm|rank|schedule|balance|reconcile|merge|diff|sort|route|predict|compress)\b`)
var crudVerbs = regexp.MustCompile(`(?i)\b(add|create|update|delete|remove|rename|list|get|set)\b`)

// semanticWeight derives an estimate in [0,3] from verb/noun patterns in
// the task title: pure CRUD scores 0, algorithmic work scores 3.
func semanticWeight(t *domain.Task) float64 {
	switch {
	case algorithmicVerbs.MatchString(t.Title):
		return 3
	case crudVerbs.MatchString(t.Title):
		return 0
	default:
		return 1.5
	}
}

// uncertaintyWeight penalises ambiguous acceptance criteria in [0,2]:
// zero or vague (very short) criteria push the score up.
func uncertaintyWeight(t *domain.Task) float64 {
	if len(t.AcceptanceCriteria) == 0 {
		return 2
	}
	vague := 0
	for _, c := range t.AcceptanceCriteria {
		if len(strings.Fields(c)) < 4 {
			vague++
		}
	}
	if vague == len(t.AcceptanceCriteria) {
		return 2
	}
	if vague > 0 {
		return 1
	}
	return 0
}

// NeedsSplit reports whether a task must be auto-split before acceptance
//: complexity over threshold, or either file cap exceeded.
func NeedsSplit(t *domain.Task) bool {
	return Score(t) > domain.SplitThreshold ||
		len(t.FilesToCreate) > domain.MaxFilesToCreate ||
		len(t.FilesToModify) > domain.MaxFilesToModify
}
