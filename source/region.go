// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"fmt"
	"strconv"
	"strings"
)

// Region is a one-based inclusive interval on a named reference.
type Region struct {
	Name       string
	Start, End int
}

// String returns the region in name:start-end form.
func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Name, r.Start, r.End)
}

// Whole returns the region covering the entire reference.
func Whole(ref Ref) Region {
	return Region{Name: ref.Name, Start: 1, End: ref.Len}
}

// ParseRegion parses a region in name:start-end form. Names may
// contain colons; the last colon separates the name from the interval.
func ParseRegion(s string) (Region, error) {
	c := strings.LastIndexByte(s, ':')
	if c <= 0 {
		return Region{}, fmt.Errorf("%w: %q: missing reference name or interval", ErrRegion, s)
	}
	name, iv := s[:c], s[c+1:]
	d := strings.IndexByte(iv, '-')
	if d < 0 {
		return Region{}, fmt.Errorf("%w: %q: missing interval end", ErrRegion, s)
	}
	start, err := strconv.Atoi(iv[:d])
	if err != nil {
		return Region{}, fmt.Errorf("%w: %q: invalid start", ErrRegion, s)
	}
	end, err := strconv.Atoi(iv[d+1:])
	if err != nil {
		return Region{}, fmt.Errorf("%w: %q: invalid end", ErrRegion, s)
	}
	if start < 1 {
		return Region{}, fmt.Errorf("%w: %q: start must be at least 1", ErrRegion, s)
	}
	if end < start {
		return Region{}, fmt.Errorf("%w: %q: end before start", ErrRegion, s)
	}
	return Region{Name: name, Start: start, End: end}, nil
}
