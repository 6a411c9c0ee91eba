// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"errors"
	"sort"

	"github.com/biogo/hts/bgzf"
	bgzfindex "github.com/biogo/hts/bgzf/index"
)

const (
	// TileWidth is the length of the interval tiling used
	// in BAI linear indexes.
	TileWidth = 0x4000

	// BAIShift and BAIDepth are the fixed binning parameters of
	// a BAI, expressed as CSI parameters.
	BAIShift = 14
	BAIDepth = 5

	nextBinShift = 3
)

// ErrNoReference is returned by Chunks for a reference ID that
// is not present in the index.
var ErrNoReference = errors.New("index: no reference")

// MetadataBin returns the ID of the pseudo-bin that holds reference
// statistics in an index of the given depth. An index of depth d has
// n = (8^(d+1)-1)/7 bins with IDs 0 to n-1, and the pseudo-bin is
// n+1, leaving one unused ID; 0x924a for a BAI.
func MetadataBin(depth uint32) uint32 {
	return ((1<<((depth+1)*nextBinShift))-1)/7 + 1
}

// Bin is an index bin.
type Bin struct {
	ID uint32

	// Left is the CSI loffset of the bin. It is
	// zero for BAI bins.
	Left bgzf.Offset

	Chunks []bgzf.Chunk
}

type refIndex struct {
	bins      []Bin
	meta      *Bin
	intervals []bgzf.Offset
}

// BinningIndex is a BAI or CSI hierarchical binning index.
type BinningIndex struct {
	kind Kind

	// Version is the CSI version, 1 or 2. It is
	// zero for a BAI.
	Version byte

	minShift uint32
	depth    uint32

	refs     []refIndex
	unplaced *uint64
}

// Kind returns BAI or CSI.
func (i *BinningIndex) Kind() Kind { return i.kind }

// NumRefs returns the number of references in the index.
func (i *BinningIndex) NumRefs() int { return len(i.refs) }

// MinShift returns the width in bits of the smallest bins.
func (i *BinningIndex) MinShift() uint32 { return i.minShift }

// Depth returns the number of binning levels below the root.
func (i *BinningIndex) Depth() uint32 { return i.depth }

// Bin returns the bin with the given ID for the reference and true
// if it is present, including the metadata bin.
func (i *BinningIndex) Bin(ref int, id uint32) (Bin, bool) {
	if ref < 0 || ref >= len(i.refs) {
		return Bin{}, false
	}
	r := i.refs[ref]
	if id == MetadataBin(i.depth) {
		if r.meta == nil {
			return Bin{}, false
		}
		return *r.meta, true
	}
	c := sort.Search(len(r.bins), func(j int) bool { return r.bins[j].ID >= id })
	if c < len(r.bins) && r.bins[c].ID == id {
		return r.bins[c], true
	}
	return Bin{}, false
}

// Unplaced returns the number of records without a reference
// and true if the index records that count.
func (i *BinningIndex) Unplaced() (n uint64, ok bool) {
	if i.unplaced == nil {
		return 0, false
	}
	return *i.unplaced, true
}

// TotalReads returns the number of mapped and unmapped records counted
// in the reference statistics of the index plus the unplaced records.
func (i *BinningIndex) TotalReads() (n uint64, ok bool) {
	return CountTotalReads(i)
}

// BinTree is the bin lookup capability shared by binning indexes.
type BinTree interface {
	NumRefs() int
	Depth() uint32
	Bin(ref int, id uint32) (Bin, bool)
	Unplaced() (n uint64, ok bool)
}

// RefCounts returns the mapped and unmapped read counts held in the
// metadata bin of the given reference. The metadata bin has exactly
// two chunks; the first spans the reference's records and the second
// packs the mapped and unmapped counts into its two 64-bit fields.
func RefCounts(t BinTree, ref int) (mapped, unmapped uint64, ok bool) {
	b, ok := t.Bin(ref, MetadataBin(t.Depth()))
	if !ok || len(b.Chunks) < 2 {
		return 0, 0, false
	}
	counts := b.Chunks[1]
	return uint64(vOffset(counts.Begin)), uint64(vOffset(counts.End)), true
}

// CountTotalReads sums the metadata bin counts over all references in
// t and adds the unplaced unmapped count if it is present. It reads
// only index data. ok is false when no reference carries counts.
func CountTotalReads(t BinTree) (n uint64, ok bool) {
	ok = t.NumRefs() == 0
	for ref := 0; ref < t.NumRefs(); ref++ {
		mapped, unmapped, found := RefCounts(t, ref)
		if !found {
			continue
		}
		n += mapped + unmapped
		ok = true
	}
	if u, found := t.Unplaced(); found {
		n += u
		ok = true
	}
	return n, ok
}

// Chunks returns the BGZF chunks that may hold records overlapping the
// zero-based half-open interval [beg, end) on the given reference.
func (i *BinningIndex) Chunks(ref, beg, end int) ([]bgzf.Chunk, error) {
	if ref < 0 || ref >= len(i.refs) {
		return nil, ErrNoReference
	}
	if beg < 0 {
		beg = 0
	}
	if end <= beg {
		end = beg + 1
	}
	r := i.refs[ref]

	var minOffset int64
	if i.kind == BAI {
		iv := beg / TileWidth
		if iv >= len(r.intervals) {
			// No record starts or extends into the query.
			return nil, nil
		}
		minOffset = vOffset(r.intervals[iv])
	}

	var chunks []bgzf.Chunk
	for _, id := range reg2bins(int64(beg), int64(end), i.minShift, i.depth) {
		c := sort.Search(len(r.bins), func(j int) bool { return r.bins[j].ID >= id })
		if c == len(r.bins) || r.bins[c].ID != id {
			continue
		}
		b := r.bins[c]
		left := minOffset
		if i.kind == CSI {
			left = vOffset(b.Left)
		}
		for _, chunk := range b.Chunks {
			if vOffset(chunk.End) > left {
				chunks = append(chunks, chunk)
			}
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	sort.Sort(byBeginOffset(chunks))
	return bgzfindex.Adjacent(chunks), nil
}

// reg2bins returns the IDs of all bins that may overlap the zero-based
// half-open interval [beg, end).
func reg2bins(beg, end int64, minShift, depth uint32) []uint32 {
	end--
	var list []uint32
	s := minShift + depth*nextBinShift
	for level, t := uint32(0), uint32(0); level <= depth; level++ {
		b := t + uint32(beg>>s)
		e := t + uint32(end>>s)
		for i := b; i <= e; i++ {
			list = append(list, i)
		}
		s -= nextBinShift
		t += 1 << (level * nextBinShift)
	}
	return list
}

func makeOffset(vOff uint64) bgzf.Offset {
	return bgzf.Offset{
		File:  int64(vOff >> 16),
		Block: uint16(vOff),
	}
}

func vOffset(o bgzf.Offset) int64 {
	return o.File<<16 | int64(o.Block)
}

type byBinNumber []Bin

func (b byBinNumber) Len() int           { return len(b) }
func (b byBinNumber) Less(i, j int) bool { return b[i].ID < b[j].ID }
func (b byBinNumber) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

type byBeginOffset []bgzf.Chunk

func (c byBeginOffset) Len() int           { return len(c) }
func (c byBeginOffset) Less(i, j int) bool { return vOffset(c[i].Begin) < vOffset(c[j].Begin) }
func (c byBeginOffset) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }

type byVirtOffset []bgzf.Offset

func (o byVirtOffset) Len() int           { return len(o) }
func (o byVirtOffset) Less(i, j int) bool { return vOffset(o[i]) < vOffset(o[j]) }
func (o byVirtOffset) Swap(i, j int)      { o[i], o[j] = o[j], o[i] }
