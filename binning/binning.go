// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package binning accumulates read coverage of a single chromosome
// into fixed width bins.
//
// Positions are one-based and spans are inclusive. A record covering
// more than one bin contributes the covered fraction of its first and
// last bins and a full count to each bin between them. The first and
// last bins of such a span are assigned rather than accumulated, so
// where spans share an edge bin the last one read determines its value.
package binning

import (
	"errors"
	"fmt"

	"github.com/biogo/hts/sam"

	"github.com/ramin-shirali/bamcowig/filter"
	"github.com/ramin-shirali/bamcowig/source"
)

// ErrBinSize is returned for non-positive bin sizes.
var ErrBinSize = errors.New("binning: bin size must be positive")

// Strategy selects the span a record contributes.
type Strategy int

const (
	// Direct uses the aligned span of the record.
	Direct Strategy = iota

	// SingleEnd extends the record to its fragment using the
	// template length, backwards from the alignment end when
	// the template length is negative.
	SingleEnd

	// PairedEnd uses the fragment starting at the alignment
	// start. Records without a positive template length
	// do not contribute.
	PairedEnd
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case SingleEnd:
		return "single-end"
	case PairedEnd:
		return "paired-end"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Count returns the number of bins used for a chromosome of the given
// length. One bin beyond the chromosome end receives spans that run off
// the end of the reference.
func Count(length, binSize int) int {
	return length/binSize + 1
}

// Distribute adds the one-based inclusive span [start, end] to bins.
// When fractional is false, partially covered edge bins are assigned
// a full count.
func Distribute(bins []float64, start, end, binSize int, fractional bool) {
	if len(bins) == 0 {
		return
	}
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	last := len(bins) - 1
	startBin, startOff := (start-1)/binSize, (start-1)%binSize
	endBin, endOff := (end-1)/binSize, (end-1)%binSize
	if endBin > last {
		endBin = last
	}
	if startBin > endBin {
		startBin = endBin
	}

	if startBin == endBin {
		bins[startBin]++
		return
	}
	if fractional {
		bins[startBin] = float64(binSize-startOff) / float64(binSize)
		bins[endBin] = float64(endOff) / float64(binSize)
	} else {
		bins[startBin] = 1
		bins[endBin] = 1
	}
	for i := startBin + 1; i < endBin; i++ {
		bins[i]++
	}
}

// Span returns the one-based inclusive span contributed by rec under
// the given strategy, and whether the record contributes at all.
func Span(rec *sam.Record, strategy Strategy) (start, end int, ok bool) {
	start = rec.Pos + 1
	end = rec.End()
	if end < start {
		// Records without reference consuming operations.
		end = start
	}
	switch strategy {
	case Direct:
		return start, end, true
	case SingleEnd:
		if rec.TempLen < 0 {
			return end + rec.TempLen, end, true
		}
		return start, start + rec.TempLen, true
	case PairedEnd:
		if rec.TempLen <= 0 {
			return 0, 0, false
		}
		return start, start + rec.TempLen, true
	default:
		return 0, 0, false
	}
}

// Params describes the binning of one chromosome.
type Params struct {
	Name   string
	Length int

	BinSize    int
	Filter     filter.Config
	Strategy   Strategy
	Fractional bool
}

// Bin returns the coverage bins of the chromosome described by p,
// reading records from src with a single whole-chromosome query.
func Bin(src source.Source, p Params) ([]float64, error) {
	if p.BinSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBinSize, p.BinSize)
	}
	switch p.Strategy {
	case Direct, SingleEnd, PairedEnd:
	default:
		return nil, fmt.Errorf("binning: unknown strategy: %v", p.Strategy)
	}
	bins := make([]float64, Count(p.Length, p.BinSize))
	if p.Length <= 0 {
		return bins, nil
	}

	it, err := src.Query(source.Whole(source.Ref{Name: p.Name, Len: p.Length}).String())
	if err != nil {
		return nil, err
	}
	for it.Next() {
		rec := it.Record()
		excluded, err := filter.Apply(rec, p.Filter)
		if err != nil {
			it.Close()
			return nil, fmt.Errorf("binning: %s: %w", p.Name, err)
		}
		if excluded {
			continue
		}
		start, end, ok := Span(rec, p.Strategy)
		if !ok {
			continue
		}
		Distribute(bins, start, end, p.BinSize, p.Fractional)
	}
	err = it.Close()
	if err != nil {
		return nil, err
	}
	return bins, nil
}
