// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package track writes binned coverage as genome browser tracks.
package track

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ramin-shirali/bamcowig/coverage"
)

var (
	// ErrFormat is returned for unknown track formats.
	ErrFormat = errors.New("track: unknown format")

	// ErrShape is returned when rows do not match
	// the chromosomes they are written for.
	ErrShape = errors.New("track: rows do not match chromosomes")
)

// Record is a single interval of a track. Start and End
// are zero-based and half-open.
type Record struct {
	Chrom      string
	Start, End int
	Value      float64
}

// Writer is a track sink.
type Writer interface {
	Write(Record) error
	Close() error
}

// Format is a track file format.
type Format int

const (
	BigWig Format = iota
	BedGraph
)

func (f Format) String() string {
	switch f {
	case BigWig:
		return "bigwig"
	case BedGraph:
		return "bedgraph"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".bw", ".bigwig":
		return BigWig, nil
	case ".bed", ".bedgraph", ".bg":
		return BedGraph, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrFormat, ext)
	}
}

// Emit writes the non-zero bins of rows to w, with chromosomes in
// lexical order of name. rows holds a bin row for each chromosome
// of m. Bins starting at or after the chromosome end are dropped
// and the last bin is truncated at the chromosome end.
func Emit(w Writer, m *coverage.Matrix, rows [][]float64) error {
	if len(rows) != len(m.Names) || len(m.Lengths) != len(m.Names) {
		return fmt.Errorf("%w: %d rows for %d chromosomes", ErrShape, len(rows), len(m.Names))
	}
	if m.BinSize <= 0 {
		return fmt.Errorf("track: invalid bin size: %d", m.BinSize)
	}
	order := make([]int, len(m.Names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return m.Names[order[i]] < m.Names[order[j]] })

	for _, i := range order {
		length := m.Lengths[i]
		for b, v := range rows[i] {
			if v == 0 {
				continue
			}
			start := b * m.BinSize
			if start >= length {
				break
			}
			end := start + m.BinSize
			if end > length {
				end = length
			}
			err := w.Write(Record{Chrom: m.Names[i], Start: start, End: end, Value: v})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFile writes rows to the file at path in the given format. The
// track is written to a temporary file in the same directory that is
// renamed to path on success and removed on failure. log may be nil.
func WriteFile(path string, f Format, m *coverage.Matrix, rows [][]float64, log logrus.FieldLogger) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(name)
		}
	}()

	var w Writer
	switch f {
	case BedGraph:
		w = NewBedGraph(tmp)
	case BigWig:
		err = tmp.Close()
		if err != nil {
			return fmt.Errorf("track: %w", err)
		}
		tmp = nil
		var bw *BigWigWriter
		bw, err = NewBigWig(name, m.Names, m.Lengths, m.BinSize)
		if err != nil {
			return err
		}
		bw.Log = log
		w = bw
	default:
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrFormat, f)
	}

	err = Emit(w, m, rows)
	if err == nil {
		err = w.Close()
	}
	if tmp != nil {
		cerr := tmp.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("track: %w", cerr)
		}
	}
	if err != nil {
		return err
	}
	err = os.Rename(name, path)
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	return nil
}
