// Package strings holds small helpers for list-valued settings.
package strings

import (
	"strings"
)

// SplitList splits a setting such as "kafka-1:9092, kafka-2:9092;kafka-3"
// into its distinct entries in first-seen order.
func SplitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	return Distinct(fields)
}

// Distinct trims values and keeps the first occurrence of each non-empty one.
func Distinct(values []string) []string {
	out := values[:0:0]
	seen := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
