package internal

import (
	"fmt"
	"slices"
	"strings"
)

// StatusAnnotation returns a parenthetical annotation like
// " (2 expired, 1 revoked)" for every non-zero status count other than
// CORRECT, or an empty string when there is nothing to flag.
func StatusAnnotation(counts map[string]int) string {
	var names []string
	for name, n := range counts {
		if n > 0 && !strings.EqualFold(name, "CORRECT") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%d %s", counts[name], strings.ToLower(name)))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
