// Package dedup provides the job-scoped set of unique normalized lines.
package dedup

import (
	"bufio"
	"io"
)

// Set accumulates unique lines across every artifact of one merge job.
// Membership is exact string equality. A Set is owned by a single job and
// is not safe for concurrent mutation.
type Set struct {
	lines map[string]struct{}
}

// New creates an empty set.
func New() *Set {
	return &Set{lines: make(map[string]struct{})}
}

// Add inserts line and reports whether it was not already present.
func (s *Set) Add(line string) bool {
	if _, ok := s.lines[line]; ok {
		return false
	}
	s.lines[line] = struct{}{}
	return true
}

// AddAll inserts every line and returns how many were new.
func (s *Set) AddAll(lines []string) int {
	added := 0
	for _, line := range lines {
		if s.Add(line) {
			added++
		}
	}
	return added
}

// Contains reports whether line is in the set.
func (s *Set) Contains(line string) bool {
	_, ok := s.lines[line]
	return ok
}

// Len returns the number of unique lines.
func (s *Set) Len() int {
	return len(s.lines)
}

// Lines returns every unique line. Order is unspecified.
func (s *Set) Lines() []string {
	out := make([]string, 0, len(s.lines))
	for line := range s.lines {
		out = append(out, line)
	}
	return out
}

// WriteTo streams the lines joined by "\n" with no trailing newline.
// Order is unspecified.
func (s *Set) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	first := true
	for line := range s.lines {
		if !first {
			if err := bw.WriteByte('\n'); err != nil {
				return n, err
			}
			n++
		}
		first = false
		written, err := bw.WriteString(line)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}
