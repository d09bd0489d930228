package deps

import (
	"strconv"
	"strings"
)

// CompareVersions compares two "X.Y[.Z]" versions; missing parts count as 0.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func CompareVersions(a, b string) int {
	av, bv := ParseVersion(a), ParseVersion(b)
	for i := range av {
		switch {
		case av[i] < bv[i]:
			return -1
		case av[i] > bv[i]:
			return 1
		}
	}
	return 0
}

// ParseVersion splits a numeric "X.Y.Z" string into [3]int. Non-numeric
// parts count as 0, so callers extract the version with a pattern first.
func ParseVersion(v string) [3]int {
	var parts [3]int
	for i, s := range strings.SplitN(v, ".", 3) {
		parts[i], _ = strconv.Atoi(s)
	}
	return parts
}
