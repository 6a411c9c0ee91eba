// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package track

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// BedGraphWriter writes tab separated bedGraph lines.
type BedGraphWriter struct {
	w   *bufio.Writer
	buf []byte
}

// NewBedGraph returns a bedGraph writer writing to w. Close flushes
// buffered lines but does not close w.
func NewBedGraph(w io.Writer) *BedGraphWriter {
	return &BedGraphWriter{w: bufio.NewWriter(w)}
}

// Write writes r as a single bedGraph line.
func (bg *BedGraphWriter) Write(r Record) error {
	if r.End <= r.Start || r.Start < 0 {
		return fmt.Errorf("track: invalid interval %s:%d-%d", r.Chrom, r.Start, r.End)
	}
	b := bg.buf[:0]
	b = append(b, r.Chrom...)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.Start), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.End), 10)
	b = append(b, '\t')
	b = strconv.AppendFloat(b, r.Value, 'g', -1, 64)
	b = append(b, '\n')
	bg.buf = b
	_, err := bg.w.Write(b)
	return err
}

// Close flushes the writer.
func (bg *BedGraphWriter) Close() error {
	return bg.w.Flush()
}
