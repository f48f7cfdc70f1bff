package task

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

type fileEntry struct {
	path   string
	create bool
}

// Split applies, in order, file-group split, layer split, and criteria
// split, each at most once per piece, to bring tasks under
// domain.SplitThreshold and the file caps. A piece that still needs
// splitting after criteria split is returned as it is. A task that does
// not need splitting is returned as the sole element of the result.
func Split(t *domain.Task) []*domain.Task {
	if !NeedsSplit(t) {
		return []*domain.Task{t}
	}

	groups := fileGroupSplit(t)
	var out []*domain.Task
	for _, g := range groups {
		if !NeedsSplit(g) {
			out = append(out, g)
			continue
		}
		layered := layerSplit(g)
		for _, lg := range layered {
			if !NeedsSplit(lg) {
				out = append(out, lg)
				continue
			}
			out = append(out, criteriaSplit(lg)...)
		}
	}
	return out
}

// fileGroupSplit orders a task's files by directory and cuts them into
// consecutive chunks that respect the file caps, emitting T<n>-a,
// T<n>-b, ... with a linear dependency chain. A chunk ends only where a
// cap would be exceeded, so one chunk can span directories.
func fileGroupSplit(t *domain.Task) []*domain.Task {
	entries := collectEntries(t)
	if len(entries) == 0 {
		return []*domain.Task{t}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return filepath.Dir(entries[i].path) < filepath.Dir(entries[j].path)
	})

	var chunks [][]fileEntry
	var current []fileEntry
	creates, modifies := 0, 0
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			creates, modifies = 0, 0
		}
	}
	for _, e := range entries {
		nextCreates, nextModifies := creates, modifies
		if e.create {
			nextCreates++
		} else {
			nextModifies++
		}
		if nextCreates > domain.MaxFilesToCreate || nextModifies > domain.MaxFilesToModify {
			flush()
			nextCreates, nextModifies = 0, 0
			if e.create {
				nextCreates = 1
			} else {
				nextModifies = 1
			}
		}
		current = append(current, e)
		creates, modifies = nextCreates, nextModifies
	}
	flush()

	return buildChunkTasks(t, chunks)
}

func collectEntries(t *domain.Task) []fileEntry {
	var out []fileEntry
	for _, f := range t.FilesToCreate {
		out = append(out, fileEntry{path: f, create: true})
	}
	for _, f := range t.FilesToModify {
		out = append(out, fileEntry{path: f, create: false})
	}
	return out
}

func buildChunkTasks(parent *domain.Task, chunks [][]fileEntry) []*domain.Task {
	if len(chunks) <= 1 {
		return []*domain.Task{parent}
	}

	var out []*domain.Task
	var prevID string
	for i, chunk := range chunks {
		sub := cloneTask(parent)
		sub.ID = fmt.Sprintf("%s-%c", parent.ID, 'a'+i)
		sub.Title = fmt.Sprintf("%s (part %d)", parent.Title, i+1)
		sub.FilesToCreate = nil
		sub.FilesToModify = nil
		for _, e := range chunk {
			if e.create {
				sub.FilesToCreate = append(sub.FilesToCreate, e.path)
			} else {
				sub.FilesToModify = append(sub.FilesToModify, e.path)
			}
		}
		if i == 0 {
			sub.Dependencies = parent.Dependencies
		} else {
			sub.Dependencies = []string{prevID}
		}
		sub.Complexity = Score(sub)
		out = append(out, sub)
		prevID = sub.ID
	}
	return out
}

// layerSplit partitions a task's files by data/service/UI layer.
func layerSplit(t *domain.Task) []*domain.Task {
	entries := collectEntries(t)
	byLayer := map[string][]fileEntry{}
	var order []string
	for _, e := range entries {
		layer := classifyLayer(e.path)
		if _, ok := byLayer[layer]; !ok {
			order = append(order, layer)
		}
		byLayer[layer] = append(byLayer[layer], e)
	}
	if len(order) <= 1 {
		return []*domain.Task{t}
	}

	var chunks [][]fileEntry
	for _, layer := range order {
		chunks = append(chunks, byLayer[layer])
	}
	return buildChunkTasks(t, chunks)
}

// criteriaSplit partitions a task's acceptance criteria into two clusters
// when neither file-group nor layer splitting reduced complexity enough —
// typically because ambiguous criteria were driving the uncertainty
// component of the score.
func criteriaSplit(t *domain.Task) []*domain.Task {
	if len(t.AcceptanceCriteria) < 2 {
		return []*domain.Task{t}
	}
	mid := (len(t.AcceptanceCriteria) + 1) / 2

	a := cloneTask(t)
	a.ID = t.ID + "-a"
	a.Title = t.Title + " (criteria 1)"
	a.AcceptanceCriteria = t.AcceptanceCriteria[:mid]
	a.Complexity = Score(a)

	b := cloneTask(t)
	b.ID = t.ID + "-b"
	b.Title = t.Title + " (criteria 2)"
	b.AcceptanceCriteria = t.AcceptanceCriteria[mid:]
	b.Dependencies = []string{a.ID}
	b.Complexity = Score(b)

	return []*domain.Task{a, b}
}

func cloneTask(t *domain.Task) *domain.Task {
	cp := *t
	cp.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	cp.FilesToCreate = append([]string(nil), t.FilesToCreate...)
	cp.FilesToModify = append([]string(nil), t.FilesToModify...)
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	return &cp
}
