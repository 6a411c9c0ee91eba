// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coverage computes binned coverage for every chromosome of an
// alignment file, binning chromosomes in parallel.
package coverage

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/ramin-shirali/bamcowig/binning"
	"github.com/ramin-shirali/bamcowig/filter"
	"github.com/ramin-shirali/bamcowig/source"
)

// DefaultThreads is the number of chromosomes binned
// concurrently when Options.Threads is not positive.
const DefaultThreads = 8

// Matrix holds the coverage bins of each chromosome in header order.
type Matrix struct {
	Names   []string
	Lengths []int
	BinSize int
	Rows    [][]float64
}

// Sum returns the sum of all bins.
func (m *Matrix) Sum() float64 {
	var s float64
	for _, r := range m.Rows {
		s += floats.Sum(r)
	}
	return s
}

// Options specifies a coverage computation.
type Options struct {
	// Source describes the alignment file. Each
	// chromosome is read through its own Source.
	Source source.Options

	BinSize int

	// Threads is the maximum number of
	// chromosomes binned concurrently.
	Threads int

	Filter filter.Config

	// ExtendToFragment extends reads to their
	// fragments using template lengths.
	ExtendToFragment bool

	// Fractional enables fractional counting
	// of partially covered edge bins.
	Fractional bool

	// Log receives progress messages. A nil
	// Log discards them.
	Log logrus.FieldLogger
}

// Strategy returns the binning strategy for the options and
// pairing state of the alignment file.
func (o Options) Strategy(paired bool) binning.Strategy {
	switch {
	case !o.ExtendToFragment:
		return binning.Direct
	case paired:
		return binning.PairedEnd
	default:
		return binning.SingleEnd
	}
}

// Run bins every reference of template. The chromosome list, pairing
// state and record count are taken from template; each chromosome is
// binned using a Source opened from opts.Source with those values. The first
// failure stops the run and no matrix is returned.
func Run(template source.Source, opts Options) (*Matrix, error) {
	if opts.BinSize <= 0 {
		return nil, fmt.Errorf("coverage: %w: %d", binning.ErrBinSize, opts.BinSize)
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = DefaultThreads
	}
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}

	refs := template.Refs()
	paired := template.Paired()
	strategy := opts.Strategy(paired)
	// Workers share the template's pairing and record count.
	srcOpts := opts.Source.Forced(paired).Counted(template.TotalReads())

	m := &Matrix{
		Names:   make([]string, len(refs)),
		Lengths: make([]int, len(refs)),
		BinSize: opts.BinSize,
		Rows:    make([][]float64, len(refs)),
	}
	for i, r := range refs {
		m.Names[i] = r.Name
		m.Lengths[i] = r.Len
	}
	log.WithFields(logrus.Fields{
		"chromosomes": len(refs),
		"threads":     threads,
		"strategy":    strategy,
		"paired":      paired,
	}).Debug("binning chromosomes")

	var (
		g      errgroup.Group
		failed atomic.Bool
	)
	g.SetLimit(threads)
	for i, r := range refs {
		i, r := i, r
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			row, err := bin(srcOpts, binning.Params{
				Name:       r.Name,
				Length:     r.Len,
				BinSize:    opts.BinSize,
				Filter:     opts.Filter,
				Strategy:   strategy,
				Fractional: opts.Fractional,
			}, log)
			if err != nil {
				failed.Store(true)
				return fmt.Errorf("coverage: %s: %w", r.Name, err)
			}
			m.Rows[i] = row
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func bin(opts source.Options, p binning.Params, log logrus.FieldLogger) (row []float64, err error) {
	start := time.Now()
	src, err := source.Open(opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		cerr := src.Close()
		if err == nil && cerr != nil {
			row, err = nil, cerr
		}
	}()
	row, err = binning.Bin(src, p)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"chromosome": p.Name,
		"bins":       len(row),
		"elapsed":    time.Since(start),
	}).Debug("binned chromosome")
	return row, nil
}
