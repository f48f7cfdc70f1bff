package task

import (
	"sort"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

func sortedKeys(m map[string]*domain.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStrings(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
