// Package util holds small helpers for table name lists.
package util

import (
	"sort"
	"strings"
)

// SplitCSV splits a comma-separated flag value into names, trimming
// whitespace and dropping empty entries. Returns nil for an empty list.
func SplitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// SelectNames returns names in their given order with blanks, duplicates
// and anything in exclude removed.
func SelectNames(names, exclude []string) []string {
	skip := toSet(exclude)
	seen := make(map[string]bool, len(names))
	var result []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || skip[n] || seen[n] {
			continue
		}
		seen[n] = true
		result = append(result, n)
	}
	return result
}

// Missing returns the sorted names of have that are absent from want and
// not excluded.
func Missing(have, want, exclude []string) []string {
	skip := toSet(exclude)
	present := toSet(want)
	var result []string
	for _, n := range have {
		if !present[n] && !skip[n] {
			result = append(result, n)
		}
	}
	sort.Strings(result)
	return result
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.TrimSpace(n)] = true
	}
	return set
}
