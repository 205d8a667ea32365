// Package strings normalizes string lists read from remote documents.
package strings

import "strings"

// DedupeAndTrim trims each value and drops blanks and repeats, keeping the
// first occurrence order. A nil or empty input is returned as is.
func DedupeAndTrim(values []string) []string {
	return normalize(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding to lower case.
func DedupeAndTrimLower(values []string) []string {
	return normalize(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func normalize(values []string, clean func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = clean(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
