// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/biogo/hts/bgzf"
)

var (
	baiMagic = [4]byte{'B', 'A', 'I', 0x1}
	csiMagic = [3]byte{'C', 'S', 'I'}
	gzMagic  = []byte{0x1f, 0x8b}
)

// ReadBAI reads a BAI from r.
func ReadBAI(r io.Reader) (*BinningIndex, error) {
	var magic [4]byte
	err := binary.Read(r, binary.LittleEndian, &magic)
	if err != nil {
		return nil, fmt.Errorf("bai: failed to read magic: %v", err)
	}
	if magic != baiMagic {
		return nil, errors.New("bai: magic number mismatch")
	}
	idx := BinningIndex{kind: BAI, minShift: BAIShift, depth: BAIDepth}
	err = idx.readRefs(r, "bai")
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

// ReadCSI reads a CSI from r. Both BGZF compressed and raw
// CSI data are accepted.
func ReadCSI(r io.Reader) (*BinningIndex, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(gzMagic)); bytes.Equal(head, gzMagic) {
		bg, err := bgzf.NewReader(br, 1)
		if err != nil {
			return nil, fmt.Errorf("csi: %v", err)
		}
		defer bg.Close()
		r = bg
	} else {
		r = br
	}

	var magic [3]byte
	err := binary.Read(r, binary.LittleEndian, &magic)
	if err != nil {
		return nil, fmt.Errorf("csi: failed to read magic: %v", err)
	}
	if magic != csiMagic {
		return nil, errors.New("csi: magic number mismatch")
	}
	idx := BinningIndex{kind: CSI}
	version := []byte{0}
	_, err = io.ReadFull(r, version)
	if err != nil {
		return nil, err
	}
	idx.Version = version[0]
	if idx.Version != 0x1 && idx.Version != 0x2 {
		return nil, fmt.Errorf("csi: unknown version: %d", version[0])
	}
	var shift, depth int32
	err = binary.Read(r, binary.LittleEndian, &shift)
	if err != nil {
		return nil, err
	}
	if shift < 0 {
		return nil, errors.New("csi: invalid minimum shift value")
	}
	err = binary.Read(r, binary.LittleEndian, &depth)
	if err != nil {
		return nil, err
	}
	if depth < 0 || depth > 10 {
		return nil, errors.New("csi: invalid index depth value")
	}
	idx.minShift, idx.depth = uint32(shift), uint32(depth)
	var n int32
	err = binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		// Auxiliary data is not used.
		_, err = io.CopyN(io.Discard, r, int64(n))
		if err != nil {
			return nil, err
		}
	}
	err = idx.readRefs(r, "csi")
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

// readRefs reads the per-reference bin trees and the trailing
// unplaced record count shared by the BAI and CSI layouts.
func (i *BinningIndex) readRefs(r io.Reader, typ string) error {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return fmt.Errorf("%s: failed to read reference count: %v", typ, err)
	}
	if n < 0 {
		return fmt.Errorf("%s: invalid reference count: %d", typ, n)
	}
	i.refs = make([]refIndex, n)
	for j := range i.refs {
		err = i.readBins(r, &i.refs[j], typ)
		if err != nil {
			return err
		}
		if i.kind == BAI {
			i.refs[j].intervals, err = readIntervals(r, typ)
			if err != nil {
				return err
			}
		}
	}
	var nUnplaced uint64
	err = binary.Read(r, binary.LittleEndian, &nUnplaced)
	if err == nil {
		i.unplaced = &nUnplaced
	} else if err != io.EOF {
		return fmt.Errorf("%s: failed to read unplaced count: %v", typ, err)
	}
	return nil
}

func (i *BinningIndex) readBins(r io.Reader, ref *refIndex, typ string) error {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return fmt.Errorf("%s: failed to read bin count: %v", typ, err)
	}
	if n == 0 {
		return nil
	}
	meta := MetadataBin(i.depth)
	bins := make([]Bin, 0, n)
	for ; n > 0; n-- {
		var b Bin
		err = binary.Read(r, binary.LittleEndian, &b.ID)
		if err != nil {
			return fmt.Errorf("%s: failed to read bin number: %v", typ, err)
		}
		if i.kind == CSI {
			var vOff uint64
			err = binary.Read(r, binary.LittleEndian, &vOff)
			if err != nil {
				return fmt.Errorf("%s: failed to read left virtual offset: %v", typ, err)
			}
			b.Left = makeOffset(vOff)
			if i.Version == 0x2 {
				var records uint64
				err = binary.Read(r, binary.LittleEndian, &records)
				if err != nil {
					return fmt.Errorf("%s: failed to read record count: %v", typ, err)
				}
			}
		}
		var nChunks int32
		err = binary.Read(r, binary.LittleEndian, &nChunks)
		if err != nil {
			return fmt.Errorf("%s: failed to read chunk count: %v", typ, err)
		}
		if b.ID == meta && nChunks != 2 {
			return fmt.Errorf("%s: malformed metadata bin: %d chunks", typ, nChunks)
		}
		b.Chunks, err = readChunks(r, nChunks, typ)
		if err != nil {
			return err
		}
		if b.ID == meta {
			// The counts chunk is not a pair of offsets,
			// so it must not be sorted.
			ref.meta = &b
			continue
		}
		if !sort.IsSorted(byBeginOffset(b.Chunks)) {
			sort.Sort(byBeginOffset(b.Chunks))
		}
		bins = append(bins, b)
	}
	if !sort.IsSorted(byBinNumber(bins)) {
		sort.Sort(byBinNumber(bins))
	}
	ref.bins = bins
	return nil
}

func readChunks(r io.Reader, n int32, typ string) ([]bgzf.Chunk, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: invalid chunk count: %d", typ, n)
	}
	var (
		vOff uint64
		err  error
	)
	chunks := make([]bgzf.Chunk, n)
	for i := range chunks {
		err = binary.Read(r, binary.LittleEndian, &vOff)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read chunk begin virtual offset: %v", typ, err)
		}
		chunks[i].Begin = makeOffset(vOff)
		err = binary.Read(r, binary.LittleEndian, &vOff)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read chunk end virtual offset: %v", typ, err)
		}
		chunks[i].End = makeOffset(vOff)
	}
	return chunks, nil
}

func readIntervals(r io.Reader, typ string) ([]bgzf.Offset, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read interval count: %v", typ, err)
	}
	if n <= 0 {
		return nil, nil
	}
	offsets := make([]uint64, n)
	err = binary.Read(r, binary.LittleEndian, offsets)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read tile interval virtual offsets: %v", typ, err)
	}
	intervals := make([]bgzf.Offset, n)
	for i, vOff := range offsets {
		intervals[i] = makeOffset(vOff)
	}
	if !sort.IsSorted(byVirtOffset(intervals)) {
		sort.Sort(byVirtOffset(intervals))
	}
	return intervals, nil
}
