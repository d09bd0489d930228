// Package ports hands out dev-server ports from the reserved range.
//
// There is no reservation store: the set of ports in use is whatever the
// container registry reports for running sessions at allocation time.
package ports

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jolo-cli/jolo/internal/constants"
)

// ErrExhausted is returned when the range has fewer free ports than requested.
var ErrExhausted = errors.New("port range exhausted")

// Range is a half-open port interval [Start, End).
type Range struct {
	Start int
	End   int
}

// DefaultRange is [4000, 5000).
var DefaultRange = Range{Start: constants.DefaultBasePort, End: constants.DefaultPortRangeEnd}

// Size returns the number of ports in the range.
func (r Range) Size() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether p is inside the range.
func (r Range) Contains(p int) bool {
	return p >= r.Start && p < r.End
}

// Allocate returns n ports from the default range.
func Allocate(n int, used []int) ([]int, error) {
	return DefaultRange.Allocate(n, used)
}

// Allocate returns n distinct ports in ascending order, starting from the
// lowest free port and skipping every port in used.
func (r Range) Allocate(n int, used []int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	taken := make(map[int]bool, len(used))
	for _, p := range used {
		taken[p] = true
	}

	out := make([]int, 0, n)
	for p := r.Start; p < r.End && len(out) < n; p++ {
		if !taken[p] {
			out = append(out, p)
		}
	}
	if len(out) < n {
		return nil, fmt.Errorf("%w: need %d free ports in [%d, %d), found %d",
			ErrExhausted, n, r.Start, r.End, len(out))
	}
	return out, nil
}

// Bound is anything that carries a port and a running flag; container
// sessions satisfy it.
type Bound interface {
	BoundPort() int
	IsRunning() bool
}

// UsedPorts collects the ports held by running sessions, sorted and deduplicated.
func UsedPorts[T Bound](sessions []T) []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range sessions {
		if !s.IsRunning() {
			continue
		}
		if p := s.BoundPort(); p > 0 && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// ForInstance returns the port of the i-th instance, or 0 when out of range.
func ForInstance(i int, ports []int) int {
	if i < 0 || i >= len(ports) {
		return 0
	}
	return ports[i]
}
