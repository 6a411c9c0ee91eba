// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package track

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kortschak/utter"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gopkg.in/check.v1"

	"github.com/ramin-shirali/bamcowig/coverage"
)

func Test(t *testing.T) { check.TestingT(t) }

type S struct{}

var _ = check.Suite(&S{})

func testMatrix() (*coverage.Matrix, [][]float64) {
	m := &coverage.Matrix{
		Names:   []string{"chr2", "chr10", "chr1"},
		Lengths: []int{25, 30, 12},
		BinSize: 10,
	}
	rows := [][]float64{
		{1, 0, 2.5},
		{0, 0, 0, 4},
		{3, 0.125},
	}
	return m, rows
}

const wantBedGraph = `chr1	0	10	3
chr1	10	12	0.125
chr2	0	10	1
chr2	20	25	2.5
`

func (s *S) TestFormatOf(c *check.C) {
	for _, t := range []struct {
		path string
		want Format
		err  bool
	}{
		{path: "out.bw", want: BigWig},
		{path: "dir/out.BigWig", want: BigWig},
		{path: "out.bedGraph", want: BedGraph},
		{path: "out.bed", want: BedGraph},
		{path: "out.bg", want: BedGraph},
		{path: "out.wig", err: true},
		{path: "out", err: true},
	} {
		f, err := FormatOf(t.path)
		if t.err {
			c.Check(errors.Is(err, ErrFormat), check.Equals, true, check.Commentf("%s", t.path))
			continue
		}
		c.Check(err, check.IsNil)
		c.Check(f, check.Equals, t.want, check.Commentf("%s", t.path))
	}
	c.Check(BigWig.String(), check.Equals, "bigwig")
	c.Check(Format(4).String(), check.Equals, "Format(4)")
}

type recorder []Record

func (r *recorder) Write(rec Record) error { *r = append(*r, rec); return nil }
func (r *recorder) Close() error           { return nil }

func (s *S) TestEmit(c *check.C) {
	m, rows := testMatrix()
	var got recorder
	c.Assert(Emit(&got, m, rows), check.IsNil)
	want := recorder{
		{Chrom: "chr1", Start: 0, End: 10, Value: 3},
		{Chrom: "chr1", Start: 10, End: 12, Value: 0.125},
		{Chrom: "chr2", Start: 0, End: 10, Value: 1},
		{Chrom: "chr2", Start: 20, End: 25, Value: 2.5},
	}
	c.Check(got, check.DeepEquals, want, check.Commentf("got:\n%s", utter.Sdump(got)))

	err := Emit(&got, m, rows[:2])
	c.Check(errors.Is(err, ErrShape), check.Equals, true)
	err = Emit(&got, &coverage.Matrix{Names: m.Names, Lengths: m.Lengths}, rows)
	c.Check(err, check.ErrorMatches, "track: invalid bin size: 0")
}

func (s *S) TestBedGraph(c *check.C) {
	m, rows := testMatrix()
	var buf bytes.Buffer
	w := NewBedGraph(&buf)
	c.Assert(Emit(w, m, rows), check.IsNil)
	c.Assert(w.Close(), check.IsNil)
	c.Check(buf.String(), check.Equals, wantBedGraph)

	c.Check(w.Write(Record{Chrom: "chr1", Start: 5, End: 5}), check.ErrorMatches, "track: invalid interval chr1:5-5")
}

func (s *S) TestWriteFile(c *check.C) {
	dir := c.MkDir()
	m, rows := testMatrix()
	path := filepath.Join(dir, "cov.bedgraph")
	c.Assert(WriteFile(path, BedGraph, m, rows, nil), check.IsNil)
	b, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Check(string(b), check.Equals, wantBedGraph)
	onlyFile(c, dir, "cov.bedgraph")
}

func (s *S) TestWriteFileFailure(c *check.C) {
	dir := c.MkDir()
	m, rows := testMatrix()
	for _, f := range []Format{BedGraph, BigWig} {
		path := filepath.Join(dir, "cov")
		err := WriteFile(path, f, m, rows[1:], nil)
		c.Check(errors.Is(err, ErrShape), check.Equals, true, check.Commentf("%v", f))
		_, err = os.Stat(path)
		c.Check(os.IsNotExist(err), check.Equals, true)
		onlyFile(c, dir)
	}

	err := WriteFile(filepath.Join(dir, "cov"), Format(7), m, rows, nil)
	c.Check(errors.Is(err, ErrFormat), check.Equals, true)
	onlyFile(c, dir)

	err = WriteFile(filepath.Join(dir, "missing", "cov.bg"), BedGraph, m, rows, nil)
	c.Check(err, check.ErrorMatches, "track: .*no such file or directory")
}

// onlyFile checks that dir contains exactly the named files.
func onlyFile(c *check.C, dir string, names ...string) {
	ents, err := os.ReadDir(dir)
	c.Assert(err, check.IsNil)
	var got []string
	for _, e := range ents {
		got = append(got, e.Name())
	}
	c.Check(got, check.DeepEquals, names)
}

func (s *S) TestBigWig(c *check.C) {
	dir := c.MkDir()
	m, rows := testMatrix()
	path := filepath.Join(dir, "cov.bw")
	c.Assert(WriteFile(path, BigWig, m, rows, nil), check.IsNil)
	b, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Assert(len(b) > 4, check.Equals, true)
	c.Check(binary.LittleEndian.Uint32(b), check.Equals, uint32(0x888ffc26))
	onlyFile(c, dir, "cov.bw")
}

func (s *S) TestBigWigWriter(c *check.C) {
	path := filepath.Join(c.MkDir(), "x.bw")
	_, err := NewBigWig(path, []string{"a", "a"}, []int{10, 10}, 5)
	c.Check(err, check.ErrorMatches, `track: duplicate chromosome "a"`)
	_, err = NewBigWig(path, []string{"a"}, []int{10, 10}, 5)
	c.Check(errors.Is(err, ErrShape), check.Equals, true)
	_, err = NewBigWig(path, []string{"a"}, []int{10}, 0)
	c.Check(err, check.ErrorMatches, "track: invalid bin size: 0")

	w, err := NewBigWig(path, []string{"a", "b"}, []int{20, 17}, 5)
	c.Assert(err, check.IsNil)
	c.Check(w.Write(Record{Chrom: "c", Start: 0, End: 5, Value: 1}), check.ErrorMatches, `track: unknown chromosome "c"`)
	c.Check(w.Write(Record{Chrom: "a", Start: 3, End: 5, Value: 1}), check.ErrorMatches, "track: a:3 not on a bin boundary")
	c.Check(w.Write(Record{Chrom: "a", Start: 5, End: 10, Value: 2}), check.IsNil)
	// The partial bin at the end of b is not kept.
	c.Check(w.Write(Record{Chrom: "b", Start: 15, End: 17, Value: 2}), check.IsNil)
	c.Check(w.track.Data["a"], check.DeepEquals, []float64{0, 2, 0, 0})
	c.Check(w.track.Data["b"], check.DeepEquals, []float64{0, 0, 0})
	c.Check(w.track.Name, check.Equals, "x")
}

func (s *S) TestBigWigDroppedBins(c *check.C) {
	dir := c.MkDir()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	m, rows := testMatrix()
	c.Assert(WriteFile(filepath.Join(dir, "cov.bw"), BigWig, m, rows, log), check.IsNil)

	// The last bins of chr1 and chr2 are partial and non-zero.
	want := []logrus.Fields{
		{"chromosome": "chr1", "start": 10, "end": 12, "value": 0.125},
		{"chromosome": "chr2", "start": 20, "end": 25, "value": 2.5},
	}
	entries := hook.AllEntries()
	c.Assert(entries, check.HasLen, len(want))
	for i, e := range entries {
		c.Check(e.Level, check.Equals, logrus.DebugLevel)
		c.Check(e.Message, check.Equals, "dropped partial bin")
		c.Check(e.Data, check.DeepEquals, want[i])
	}
}
