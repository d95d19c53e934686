// Package strings parses list-valued configuration.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated value, trimming whitespace and dropping
// empty and repeated items. Repeats are matched case-insensitively and the
// first spelling wins; order is preserved.
//
//	SplitList(" a, B ,,b,c ") // []string{"a", "B", "c"}
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
