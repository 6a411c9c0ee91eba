// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package track

import (
	"fmt"
	"path/filepath"
	"strings"

	gn "github.com/pbenner/gonetics"
	"github.com/sirupsen/logrus"
)

// BigWigWriter collects bins into a fixed step track that
// is written as a bigWig file when the writer is closed.
//
// Only bins lying entirely within their chromosome are kept,
// so a partial bin at the end of a chromosome is not written.
type BigWigWriter struct {
	path  string
	track gn.SimpleTrack

	// Log receives a debug message for each non-zero
	// bin that is not kept. A nil Log discards them.
	Log logrus.FieldLogger
}

// NewBigWig returns a bigWig writer for a genome with the given
// chromosome names and lengths that writes to path on Close.
func NewBigWig(path string, names []string, lengths []int, binSize int) (*BigWigWriter, error) {
	if len(names) != len(lengths) {
		return nil, fmt.Errorf("%w: %d names for %d lengths", ErrShape, len(names), len(lengths))
	}
	if binSize <= 0 {
		return nil, fmt.Errorf("track: invalid bin size: %d", binSize)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, fmt.Errorf("track: duplicate chromosome %q", n)
		}
		seen[n] = true
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &BigWigWriter{
		path:  path,
		track: gn.AllocSimpleTrack(name, gn.NewGenome(names, lengths), binSize),
	}, nil
}

// Write sets the bin starting at r.Start to r.Value.
func (bw *BigWigWriter) Write(r Record) error {
	seq, ok := bw.track.Data[r.Chrom]
	if !ok {
		return fmt.Errorf("track: unknown chromosome %q", r.Chrom)
	}
	if r.Start < 0 || r.Start%bw.track.BinSize != 0 {
		return fmt.Errorf("track: %s:%d not on a bin boundary", r.Chrom, r.Start)
	}
	i := r.Start / bw.track.BinSize
	if i >= len(seq) {
		if r.Value != 0 && bw.Log != nil {
			bw.Log.WithFields(logrus.Fields{
				"chromosome": r.Chrom,
				"start":      r.Start,
				"end":        r.End,
				"value":      r.Value,
			}).Debug("dropped partial bin")
		}
		return nil
	}
	seq[i] = r.Value
	return nil
}

// Close writes the bigWig file.
func (bw *BigWigWriter) Close() error {
	err := bw.track.ExportBigWig(bw.path)
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	return nil
}
