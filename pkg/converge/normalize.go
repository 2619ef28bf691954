// Package converge brings a target's set of installed units in line with a
// desired set: probe what is present, apply what is missing, stop at the
// first failure. The desired set comes from a free-form list that tolerates
// comments, commas, and repeated names.
package converge

import (
	"strings"
)

// Normalize parses a raw desired-unit list into an ordered, deduplicated
// slice of unit names. Everything after '#' on a line is a comment; names are
// separated by commas, newlines, or any other whitespace. The first
// occurrence of a name wins, so apply order follows the author's order.
func Normalize(raw string) []string {
	var units []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(raw, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, name := range fields {
			if seen[name] {
				continue
			}
			seen[name] = true
			units = append(units, name)
		}
	}
	return units
}
