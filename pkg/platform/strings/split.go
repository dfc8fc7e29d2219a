// Package strings holds small string helpers shared by configuration parsing.
package strings

import (
	"strings"
)

// SplitCSV splits a comma-separated list, trimming each part and dropping
// empty parts and repeats. Order of first appearance is kept. A list with no
// usable parts yields nil.
//
// Example:
//
//	SplitCSV(" a, b,,a ")
//	// Returns: []string{"a", "b"}
func SplitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
