// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bamtest writes small indexed BAM files for tests.
package bamtest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/csi"
	"github.com/biogo/hts/sam"
)

// Ref describes a reference sequence.
type Ref struct {
	Name string
	Len  int
}

// Read describes an alignment. Pos is zero-based. A Ref of -1
// gives an unplaced record. Len is the number of aligned bases;
// a zero Len gives a record without a CIGAR.
type Read struct {
	Name    string
	Ref     int
	Pos     int
	Len     int
	Flags   sam.Flags
	MapQ    byte
	TempLen int
}

// Index selects the index written alongside the BAM.
type Index struct {
	// Ext is "bai" or "csi".
	Ext string

	// Depth is the CSI depth; zero selects csi.DefaultDepth.
	Depth int
}

var (
	BAI = Index{Ext: "bai"}
	CSI = Index{Ext: "csi"}
)

// Write writes name.bam and its index into dir. Reads are sorted into
// coordinate order before writing.
func Write(dir, name string, refs []Ref, reads []Read, idx Index) (bamPath, idxPath string, err error) {
	sr := make([]*sam.Reference, len(refs))
	for i, r := range refs {
		sr[i], err = sam.NewReference(r.Name, "", "", r.Len, nil, nil)
		if err != nil {
			return "", "", err
		}
	}
	h, err := sam.NewHeader(nil, sr)
	if err != nil {
		return "", "", err
	}
	h.Version = "1.6"
	h.SortOrder = sam.Coordinate

	sorted := append([]Read(nil), reads...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Ref != b.Ref {
			if a.Ref < 0 {
				return false
			}
			return b.Ref < 0 || a.Ref < b.Ref
		}
		return a.Pos < b.Pos
	})

	bamPath = filepath.Join(dir, name+".bam")
	f, err := os.Create(bamPath)
	if err != nil {
		return "", "", err
	}
	bw, err := bam.NewWriter(f, h, 1)
	if err != nil {
		f.Close()
		return "", "", err
	}
	for i, rd := range sorted {
		rec, err := record(rd, sr, i)
		if err != nil {
			f.Close()
			return "", "", err
		}
		err = bw.Write(rec)
		if err != nil {
			f.Close()
			return "", "", err
		}
	}
	err = bw.Close()
	if err != nil {
		f.Close()
		return "", "", err
	}
	err = f.Close()
	if err != nil {
		return "", "", err
	}

	idxPath = bamPath + "." + idx.Ext
	switch idx.Ext {
	case "bai":
		err = writeBAI(bamPath, idxPath)
	case "csi":
		err = writeCSI(bamPath, idxPath, idx.Depth)
	default:
		err = fmt.Errorf("bamtest: unknown index %q", idx.Ext)
	}
	return bamPath, idxPath, err
}

func record(rd Read, refs []*sam.Reference, i int) (*sam.Record, error) {
	name := rd.Name
	if name == "" {
		name = fmt.Sprintf("r%d", i)
	}
	var (
		ref   *sam.Reference
		pos   = -1
		cigar []sam.CigarOp
	)
	if rd.Ref >= 0 {
		ref = refs[rd.Ref]
		pos = rd.Pos
	}
	n := rd.Len
	if n > 0 {
		cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, n)}
	} else {
		n = 1
	}
	var (
		mRef *sam.Reference
		mPos = -1
	)
	if rd.Flags&sam.Paired != 0 && ref != nil {
		mRef = ref
		mPos = pos
		if rd.TempLen > n {
			mPos = pos + rd.TempLen - n
		}
	}
	rec, err := sam.NewRecord(name, ref, mRef, pos, mPos, rd.TempLen, rd.MapQ, cigar, bytes.Repeat([]byte{'A'}, n), nil, nil)
	if err != nil {
		return nil, err
	}
	rec.Flags = rd.Flags
	return rec, nil
}

func writeBAI(bamPath, idxPath string) error {
	var bai bam.Index
	err := scan(bamPath, func(r *sam.Record, c bgzf.Chunk) error {
		return bai.Add(r, c)
	})
	if err != nil {
		return err
	}
	f, err := os.Create(idxPath)
	if err != nil {
		return err
	}
	err = bam.WriteIndex(f, &bai)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCSI(bamPath, idxPath string, depth int) error {
	ci := csi.New(csi.DefaultShift, depth)
	err := scan(bamPath, func(r *sam.Record, c bgzf.Chunk) error {
		return ci.Add(r, c, r.Flags&sam.Unmapped == 0, r.Ref != nil && r.Pos != -1)
	})
	if err != nil {
		return err
	}
	f, err := os.Create(idxPath)
	if err != nil {
		return err
	}
	bg := bgzf.NewWriter(f, 1)
	err = csi.WriteTo(bg, ci)
	if err != nil {
		f.Close()
		return err
	}
	err = bg.Close()
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func scan(path string, fn func(*sam.Record, bgzf.Chunk) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	br, err := bam.NewReader(f, 1)
	if err != nil {
		return err
	}
	defer br.Close()
	for {
		r, err := br.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		err = fn(r, br.LastChunk())
		if err != nil {
			return err
		}
	}
}
