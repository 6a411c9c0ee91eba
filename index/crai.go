// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/brentp/goleft/indexcov/crai"
	"github.com/klauspost/compress/gzip"
)

// CraiIndex is a CRAM index. It holds slice locations only and
// carries no read counts.
type CraiIndex struct {
	idx *crai.Index
}

// ReadCRAI reads a CRAI from r. Both gzip compressed and plain
// text CRAI data are accepted.
func ReadCRAI(r io.Reader) (*CraiIndex, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(gzMagic)); bytes.Equal(head, gzMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("crai: %v", err)
		}
		defer gz.Close()
		r = gz
	} else {
		r = br
	}
	idx, err := crai.ReadIndex(r)
	if err != nil {
		return nil, fmt.Errorf("crai: %v", err)
	}
	return &CraiIndex{idx: idx}, nil
}

// Kind returns CRAI.
func (c *CraiIndex) Kind() Kind { return CRAI }

// NumRefs returns the number of references with indexed slices.
func (c *CraiIndex) NumRefs() int { return len(c.idx.Slices) }

// Slices returns the number of indexed slices for the reference.
func (c *CraiIndex) Slices(ref int) int {
	if ref < 0 || ref >= len(c.idx.Slices) {
		return 0
	}
	return len(c.idx.Slices[ref])
}

// TotalReads always returns false; CRAI does not record read counts
// and totals must be obtained from the CRAM containers.
func (c *CraiIndex) TotalReads() (n uint64, ok bool) { return 0, false }
