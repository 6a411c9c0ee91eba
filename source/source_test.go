// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biogo/hts/sam"
	"gopkg.in/check.v1"

	"github.com/ramin-shirali/bamcowig/index"
	"github.com/ramin-shirali/bamcowig/internal/bamtest"
)

func Test(t *testing.T) { check.TestingT(t) }

type S struct{}

var _ = check.Suite(&S{})

func (s *S) TestKindOf(c *check.C) {
	for _, t := range []struct {
		path string
		want Kind
		err  bool
	}{
		{path: "a.bam", want: BAM},
		{path: "dir/a.BAM", want: BAM},
		{path: "a.cram", want: CRAM},
		{path: "a.sam", err: true},
		{path: "a.bam.bai", err: true},
		{path: "a", err: true},
	} {
		got, err := KindOf(t.path)
		if t.err {
			c.Check(errors.Is(err, ErrUnsupportedFormat), check.Equals, true, check.Commentf("path %q", t.path))
			continue
		}
		c.Check(err, check.IsNil)
		c.Check(got, check.Equals, t.want)
	}
}

func (s *S) TestParseRegion(c *check.C) {
	for _, t := range []struct {
		in   string
		want Region
		err  string
	}{
		{in: "chr1:1-100", want: Region{Name: "chr1", Start: 1, End: 100}},
		{in: "chr1:5-5", want: Region{Name: "chr1", Start: 5, End: 5}},
		{in: "HLA-A*01:01:01:01:1-3503", want: Region{Name: "HLA-A*01:01:01:01", Start: 1, End: 3503}},
		{in: "chr1:0-100", err: "start must be at least 1"},
		{in: "chr1:100-99", err: "end before start"},
		{in: "chr1", err: "missing reference name or interval"},
		{in: ":1-10", err: "missing reference name or interval"},
		{in: "chr1:100", err: "missing interval end"},
		{in: "chr1:a-100", err: "invalid start"},
		{in: "chr1:1-", err: "invalid end"},
		{in: "chr1:-5-10", err: "invalid start"},
	} {
		got, err := ParseRegion(t.in)
		if t.err != "" {
			c.Check(errors.Is(err, ErrRegion), check.Equals, true, check.Commentf("region %q", t.in))
			c.Check(err, check.ErrorMatches, ".*: "+t.err)
			continue
		}
		c.Check(err, check.IsNil, check.Commentf("region %q", t.in))
		c.Check(got, check.Equals, t.want)
		c.Check(got.String(), check.Equals, t.in)
	}
}

var (
	testRefs = []bamtest.Ref{
		{Name: "chr1", Len: 1000},
		{Name: "chr2", Len: 500},
	}
	testReads = []bamtest.Read{
		{Ref: 0, Pos: 10, Len: 20, Flags: sam.Paired | sam.ProperPair | sam.Read1, MapQ: 60, TempLen: 60},
		{Ref: 0, Pos: 100, Len: 50, MapQ: 60},
		{Ref: 0, Pos: 990, Len: 20, MapQ: 60},
		{Ref: 1, Pos: 0, Len: 10, MapQ: 60},
		{Ref: 1, Pos: 300, Len: 30, Flags: sam.Reverse, MapQ: 60},
		{Ref: -1, Flags: sam.Unmapped},
	}
)

func positions(c *check.C, it Iterator) []int {
	var pos []int
	for it.Next() {
		pos = append(pos, it.Record().Pos)
	}
	c.Check(it.Error(), check.IsNil)
	c.Check(it.Close(), check.IsNil)
	return pos
}

func (s *S) TestOpenBAM(c *check.C) {
	for _, idx := range []bamtest.Index{bamtest.BAI, bamtest.CSI} {
		bamPath, idxPath, err := bamtest.Write(c.MkDir(), "test", testRefs, testReads, idx)
		c.Assert(err, check.IsNil)

		src, err := Open(Options{Alignment: bamPath, Index: idxPath})
		c.Assert(err, check.IsNil, check.Commentf("index %s", idx.Ext))
		c.Check(src.Kind(), check.Equals, BAM)
		c.Check(src.Refs(), check.DeepEquals, []Ref{{Name: "chr1", Len: 1000}, {Name: "chr2", Len: 500}})
		c.Check(src.Header().Refs(), check.HasLen, 2)
		c.Check(src.TotalReads(), check.Equals, uint64(len(testReads)))
		c.Check(src.Paired(), check.Equals, true)

		for _, q := range []struct {
			region string
			want   []int
		}{
			{region: "chr1:1-1000", want: []int{10, 100, 990}},
			{region: "chr1:50-120", want: []int{100}},
			{region: "chr1:31-100", want: nil},
			{region: "chr1:30-30", want: []int{10}},
			{region: "chr2:301-301", want: []int{300}},
			{region: "chr2:1-500", want: []int{0, 300}},
		} {
			it, err := src.Query(q.region)
			c.Assert(err, check.IsNil)
			c.Check(positions(c, it), check.DeepEquals, q.want, check.Commentf("index %s region %s", idx.Ext, q.region))
		}

		_, err = src.Query("chr3:1-10")
		c.Check(errors.Is(err, ErrQuery), check.Equals, true)
		_, err = src.Query("chr1:0-10")
		c.Check(errors.Is(err, ErrRegion), check.Equals, true)

		c.Check(src.Close(), check.IsNil)
	}
}

func (s *S) TestOpenBAMPairing(c *check.C) {
	dir := c.MkDir()
	bamPath, idxPath, err := bamtest.Write(dir, "paired", testRefs, testReads, bamtest.BAI)
	c.Assert(err, check.IsNil)
	opts := Options{Alignment: bamPath, Index: idxPath}

	src, err := Open(opts.Forced(false))
	c.Assert(err, check.IsNil)
	c.Check(src.Paired(), check.Equals, false)
	c.Check(src.Close(), check.IsNil)
	c.Check(opts.Paired, check.IsNil)

	// Pairing is taken from the first record only.
	single := append([]bamtest.Read{{Ref: 0, Pos: 1, Len: 5, MapQ: 60}}, testReads...)
	bamPath, idxPath, err = bamtest.Write(dir, "single", testRefs, single, bamtest.BAI)
	c.Assert(err, check.IsNil)
	src, err = Open(Options{Alignment: bamPath, Index: idxPath})
	c.Assert(err, check.IsNil)
	c.Check(src.Paired(), check.Equals, false)
	c.Check(src.Close(), check.IsNil)

	bamPath, idxPath, err = bamtest.Write(dir, "empty", testRefs, nil, bamtest.CSI)
	c.Assert(err, check.IsNil)
	src, err = Open(Options{Alignment: bamPath, Index: idxPath})
	c.Assert(err, check.IsNil)
	c.Check(src.Paired(), check.Equals, false)
	c.Check(src.TotalReads(), check.Equals, uint64(0))
	it, err := src.Query("chr1:1-1000")
	c.Assert(err, check.IsNil)
	c.Check(positions(c, it), check.HasLen, 0)
	c.Check(src.Close(), check.IsNil)
}

func (s *S) TestOpenErrors(c *check.C) {
	dir := c.MkDir()
	bamPath, idxPath, err := bamtest.Write(dir, "test", testRefs, testReads, bamtest.BAI)
	c.Assert(err, check.IsNil)

	_, err = Open(Options{Alignment: filepath.Join(dir, "test.sam"), Index: idxPath})
	c.Check(errors.Is(err, ErrUnsupportedFormat), check.Equals, true)

	_, err = Open(Options{Alignment: bamPath, Index: filepath.Join(dir, "missing.bai")})
	c.Check(errors.Is(err, index.ErrIndexNotFound), check.Equals, true)

	crai := filepath.Join(dir, "test.bam.crai")
	err = os.WriteFile(crai, []byte("0\t1\t100\t40\t0\t500\n"), 0o644)
	c.Assert(err, check.IsNil)
	_, err = Open(Options{Alignment: bamPath, Index: crai})
	c.Check(errors.Is(err, index.ErrUnsupportedFormat), check.Equals, true)

	_, err = Open(Options{Alignment: filepath.Join(dir, "missing.bam"), Index: idxPath})
	c.Check(err, check.NotNil)
}

// samFixture holds the records produced by the stand-in samtools.
const samFixture = "" +
	"r1\t99\tchr1\t10\t60\t20M\t=\t50\t60\t*\t*\n" +
	"r2\t147\tchr1\t50\t60\t20M\t=\t10\t-60\t*\t*\n" +
	"r3\t0\tchr2\t5\t60\t10M\t*\t0\t0\t*\t*\n" +
	"r4\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*\n"

// fakeSamtools writes a shell script that logs its arguments and
// prints the SAM fixture, ignoring any region.
func fakeSamtools(c *check.C, dir, body string) (path, argLog string) {
	argLog = filepath.Join(dir, "args.log")
	fixture := filepath.Join(dir, "records.sam")
	err := os.WriteFile(fixture, []byte(samFixture), 0o644)
	c.Assert(err, check.IsNil)
	if body == "" {
		body = fmt.Sprintf("cat %q\n", fixture)
	}
	path = filepath.Join(dir, "samtools")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\n%s", argLog, body)
	err = os.WriteFile(path, []byte(script), 0o755)
	c.Assert(err, check.IsNil)
	return path, argLog
}

func (s *S) TestOpenCRAM(c *check.C) {
	dir := c.MkDir()
	cramPath, craiPath, err := bamtest.WriteCRAM(dir, "test", testRefs, []bamtest.Container{{Ref: 0, Records: 3}, {Ref: 0, Records: 0}, {Ref: 1, Records: 4}})
	c.Assert(err, check.IsNil)
	samtools, argLog := fakeSamtools(c, dir, "")

	src, err := Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools})
	c.Assert(err, check.IsNil)
	c.Check(src.Kind(), check.Equals, CRAM)
	c.Check(src.Refs(), check.DeepEquals, []Ref{{Name: "chr1", Len: 1000}, {Name: "chr2", Len: 500}})
	c.Check(src.TotalReads(), check.Equals, uint64(7))
	c.Check(src.Paired(), check.Equals, true)

	it, err := src.Query("chr1:1-1000")
	c.Assert(err, check.IsNil)
	c.Check(positions(c, it), check.DeepEquals, []int{9, 49})

	it, err = src.Query("chr1:30-40")
	c.Assert(err, check.IsNil)
	c.Check(positions(c, it), check.DeepEquals, []int(nil))

	it, err = src.Query("chr2:1-500")
	c.Assert(err, check.IsNil)
	c.Check(positions(c, it), check.DeepEquals, []int{4})

	// An abandoned query is stopped by the next one.
	it, err = src.Query("chr1:1-1000")
	c.Assert(err, check.IsNil)
	c.Check(it.Next(), check.Equals, true)
	it, err = src.Query("chr2:1-500")
	c.Assert(err, check.IsNil)
	c.Check(positions(c, it), check.DeepEquals, []int{4})

	_, err = src.Query("chrX:1-10")
	c.Check(errors.Is(err, ErrQuery), check.Equals, true)
	c.Check(src.Close(), check.IsNil)

	args, err := os.ReadFile(argLog)
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	c.Assert(lines, check.HasLen, 6)
	c.Check(lines[0], check.Equals, "view "+cramPath)
	c.Check(lines[1], check.Equals, fmt.Sprintf("view -X %s %s chr1:1-1000", cramPath, craiPath))
}

func (s *S) TestOpenCRAMReference(c *check.C) {
	dir := c.MkDir()
	cramPath, craiPath, err := bamtest.WriteCRAM(dir, "test", testRefs, []bamtest.Container{{Ref: 1, Records: 1}})
	c.Assert(err, check.IsNil)
	samtools, argLog := fakeSamtools(c, dir, "")

	ref := filepath.Join(dir, "ref.fa")
	err = os.WriteFile(ref+".fai", []byte("chr1\t1000\t6\t60\t61\nchr2\t500\t1030\t60\t61\n"), 0o644)
	c.Assert(err, check.IsNil)
	paired := false
	src, err := Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools, Reference: ref, Paired: &paired, ReadThreads: 4})
	c.Assert(err, check.IsNil)
	c.Check(src.Paired(), check.Equals, false)
	it, err := src.Query("chr2:1-500")
	c.Assert(err, check.IsNil)
	c.Check(positions(c, it), check.DeepEquals, []int{4})
	c.Check(src.Close(), check.IsNil)

	args, err := os.ReadFile(argLog)
	c.Assert(err, check.IsNil)
	c.Check(strings.TrimSpace(string(args)), check.Equals, fmt.Sprintf("view -@ 3 -T %s -X %s %s chr2:1-500", ref, cramPath, craiPath))

	bad := filepath.Join(dir, "bad.fa")
	err = os.WriteFile(bad+".fai", []byte("chr1\t999\t6\t60\t61\nchr2\t500\t1030\t60\t61\n"), 0o644)
	c.Assert(err, check.IsNil)
	_, err = Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools, Reference: bad})
	c.Check(err, check.ErrorMatches, `source: reference .*bad.fa length mismatch for "chr1": got:999 want:1000`)

	missing := filepath.Join(dir, "missing.fa")
	err = os.WriteFile(missing+".fai", []byte("chr1\t1000\t6\t60\t61\n"), 0o644)
	c.Assert(err, check.IsNil)
	_, err = Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools, Reference: missing})
	c.Check(err, check.ErrorMatches, `source: reference .*missing.fa has no sequence "chr2"`)
}

func (s *S) TestOpenCRAMErrors(c *check.C) {
	dir := c.MkDir()
	cramPath, craiPath, err := bamtest.WriteCRAM(dir, "test", testRefs, []bamtest.Container{{Ref: 0, Records: 1}})
	c.Assert(err, check.IsNil)
	samtools, _ := fakeSamtools(c, dir, "echo '[E::cram_decode] failed' >&2\nexit 1\n")

	_, err = Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools})
	c.Check(errors.Is(err, ErrQuery), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*\[E::cram_decode\] failed`)

	paired := true
	src, err := Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools, Paired: &paired})
	c.Assert(err, check.IsNil)
	it, err := src.Query("chr1:1-1000")
	c.Assert(err, check.IsNil)
	c.Check(it.Next(), check.Equals, false)
	c.Check(errors.Is(it.Error(), ErrQuery), check.Equals, true)
	c.Check(errors.Is(it.Close(), ErrQuery), check.Equals, true)
	c.Check(src.Close(), check.IsNil)

	src, err = Open(Options{Alignment: cramPath, Index: craiPath, Samtools: filepath.Join(dir, "no-such-samtools"), Paired: &paired})
	c.Assert(err, check.IsNil)
	_, err = src.Query("chr1:1-1000")
	c.Check(err, check.ErrorMatches, "source: query failed: failed to start .*")
	c.Check(src.Close(), check.IsNil)

	_, baiPath, err := bamtest.Write(dir, "x", testRefs, testReads, bamtest.BAI)
	c.Assert(err, check.IsNil)
	_, err = Open(Options{Alignment: cramPath, Index: baiPath, Samtools: samtools, Paired: &paired})
	c.Check(errors.Is(err, index.ErrUnsupportedFormat), check.Equals, true)
}

func (s *S) TestOpenCRAMSlices(c *check.C) {
	dir := c.MkDir()
	cramPath, craiPath, err := bamtest.WriteCRAM(dir, "test", testRefs, []bamtest.Container{{Ref: 0, Records: 2}, {Ref: 0, Records: 1}})
	c.Assert(err, check.IsNil)
	samtools, argLog := fakeSamtools(c, dir, "")

	src, err := Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools}.Forced(true))
	c.Assert(err, check.IsNil)
	c.Check(src.TotalReads(), check.Equals, uint64(3))

	// No slice is indexed for chr2 so samtools is not run.
	it, err := src.Query("chr2:1-500")
	c.Assert(err, check.IsNil)
	c.Check(it.Next(), check.Equals, false)
	c.Check(it.Error(), check.IsNil)
	c.Check(it.Close(), check.IsNil)
	c.Check(src.Close(), check.IsNil)
	_, err = os.Stat(argLog)
	c.Check(os.IsNotExist(err), check.Equals, true)

	cramPath, craiPath, err = bamtest.WriteCRAM(dir, "extra", testRefs, []bamtest.Container{{Ref: 0, Records: 1}, {Ref: 1, Records: 1}, {Ref: 2, Records: 1}})
	c.Assert(err, check.IsNil)
	_, err = Open(Options{Alignment: cramPath, Index: craiPath, Samtools: samtools}.Forced(true))
	c.Check(err, check.ErrorMatches, "source: index .*extra.cram.crai describes 3 references, header has 2")
}

func (s *S) TestOpenCounted(c *check.C) {
	dir := c.MkDir()
	cramPath, craiPath, err := bamtest.WriteCRAM(dir, "test", testRefs, []bamtest.Container{{Ref: 0, Records: 2}, {Ref: 1, Records: 5}})
	c.Assert(err, check.IsNil)
	samtools, _ := fakeSamtools(c, dir, "")
	opts := Options{Alignment: cramPath, Index: craiPath, Samtools: samtools}.Forced(true)

	src, err := Open(opts)
	c.Assert(err, check.IsNil)
	c.Check(src.TotalReads(), check.Equals, uint64(7))
	c.Check(src.Close(), check.IsNil)

	// Cut the file inside its last data container. Containers
	// are no longer walked once the count is supplied.
	info, err := os.Stat(cramPath)
	c.Assert(err, check.IsNil)
	c.Assert(os.Truncate(cramPath, info.Size()-50), check.IsNil)
	_, err = Open(opts)
	c.Check(err, check.ErrorMatches, "source: counting records in .*")
	src, err = Open(opts.Counted(7))
	c.Assert(err, check.IsNil)
	c.Check(src.TotalReads(), check.Equals, uint64(7))
	c.Check(src.Close(), check.IsNil)

	bamPath, baiPath, err := bamtest.Write(dir, "x", testRefs, testReads, bamtest.BAI)
	c.Assert(err, check.IsNil)
	src, err = Open(Options{Alignment: bamPath, Index: baiPath}.Counted(1000))
	c.Assert(err, check.IsNil)
	c.Check(src.TotalReads(), check.Equals, uint64(1000))
	c.Check(src.Close(), check.IsNil)
}
