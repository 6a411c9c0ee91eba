// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/ramin-shirali/bamcowig/index"
)

type bamSource struct {
	f   *os.File
	r   *bam.Reader
	idx *index.BinningIndex

	refs   []Ref
	byName map[string]int
	total  uint64
	paired bool
}

func openBAM(opts Options) (_ *bamSource, err error) {
	idx, err := index.Load(opts.Index)
	if err != nil {
		return nil, err
	}
	bi, ok := idx.(*index.BinningIndex)
	if !ok {
		return nil, fmt.Errorf("%w: %v index for BAM file %s", index.ErrUnsupportedFormat, idx.Kind(), opts.Alignment)
	}

	f, err := os.Open(opts.Alignment)
	if err != nil {
		return nil, fmt.Errorf("source: %v", err)
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()
	br, err := bam.NewReader(f, opts.ReadThreads)
	if err != nil {
		return nil, fmt.Errorf("source: failed to read BAM header from %s: %v", opts.Alignment, err)
	}
	// Binning needs only the fixed length record fields.
	br.Omit(bam.AllVariableLengthData)
	refs, byName := refsOf(br.Header())
	if n := bi.NumRefs(); n > len(refs) {
		br.Close()
		return nil, fmt.Errorf("source: index %s describes %d references, header has %d", opts.Index, n, len(refs))
	}

	s := &bamSource{f: f, r: br, idx: bi, refs: refs, byName: byName}
	if opts.Paired != nil {
		s.paired = *opts.Paired
	} else {
		rec, err := br.Read()
		if err != nil && err != io.EOF {
			br.Close()
			return nil, fmt.Errorf("source: failed to read first record of %s: %v", opts.Alignment, err)
		}
		s.paired = isPaired(rec)
	}

	if opts.TotalReads != nil {
		s.total = *opts.TotalReads
		return s, nil
	}
	total, ok := bi.TotalReads()
	if !ok {
		// Indexes written without per-reference
		// counts require a full pass.
		total, err = s.count(opts.Alignment, opts.ReadThreads)
		if err != nil {
			br.Close()
			return nil, err
		}
	}
	s.total = total
	return s, nil
}

func (s *bamSource) count(path string, rd int) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("source: %v", err)
	}
	defer f.Close()
	br, err := bam.NewReader(f, rd)
	if err != nil {
		return 0, fmt.Errorf("source: %v", err)
	}
	defer br.Close()
	br.Omit(bam.AllVariableLengthData)
	var n uint64
	for {
		_, err := br.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("source: counting records in %s: %v", path, err)
		}
		n++
	}
}

func (s *bamSource) Kind() Kind          { return BAM }
func (s *bamSource) Header() *sam.Header { return s.r.Header() }
func (s *bamSource) Refs() []Ref         { return s.refs }
func (s *bamSource) TotalReads() uint64  { return s.total }
func (s *bamSource) Paired() bool        { return s.paired }

func (s *bamSource) Query(region string) (Iterator, error) {
	reg, err := ParseRegion(region)
	if err != nil {
		return nil, err
	}
	ref, ok := s.byName[reg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reference %q", ErrQuery, reg.Name)
	}
	chunks, err := s.idx.Chunks(ref, reg.Start-1, reg.End)
	if errors.Is(err, index.ErrNoReference) {
		// References without records may be absent from the index.
		chunks, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrQuery, reg, err)
	}
	it, err := bam.NewIterator(s.r, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrQuery, reg, err)
	}
	return filtered{Iterator: bamIterator{it}, reg: reg}, nil
}

// bamIterator marks iteration failures as query errors.
type bamIterator struct {
	*bam.Iterator
}

func (i bamIterator) Error() error {
	if err := i.Iterator.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

func (i bamIterator) Close() error {
	if err := i.Iterator.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

func (s *bamSource) Close() error {
	err := s.r.Close()
	if ferr := s.f.Close(); err == nil {
		err = ferr
	}
	return err
}
