// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package source provides indexed access to BAM and CRAM alignment files.
//
// A Source is not safe for concurrent use. Callers that read chromosomes
// in parallel open one Source per goroutine.
package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/sam"
)

var (
	// ErrUnsupportedFormat is returned when the alignment file
	// extension is not a recognised container kind.
	ErrUnsupportedFormat = errors.New("source: unsupported alignment format")

	// ErrRegion is returned for malformed region strings.
	ErrRegion = errors.New("source: malformed region")

	// ErrQuery is returned when a region query cannot be satisfied.
	ErrQuery = errors.New("source: query failed")
)

// Kind is an alignment container kind.
type Kind int

const (
	BAM Kind = iota
	CRAM
)

func (k Kind) String() string {
	switch k {
	case BAM:
		return "BAM"
	case CRAM:
		return "CRAM"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf returns the container kind of the alignment file at path
// based on its extension.
func KindOf(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bam":
		return BAM, nil
	case ".cram":
		return CRAM, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Ref is a reference sequence name and length.
type Ref struct {
	Name string
	Len  int
}

// Options specifies how an alignment file is opened.
type Options struct {
	// Alignment and Index are the paths to the
	// alignment file and its index.
	Alignment string
	Index     string

	// Paired overrides pairing detection when non-nil.
	Paired *bool

	// Reference is an optional FASTA reference for CRAM
	// decoding. It must have a .fai index alongside.
	Reference string

	// Samtools is the samtools executable used to decode
	// CRAM records. It defaults to "samtools".
	Samtools string

	// ReadThreads is the number of decompression
	// goroutines or threads used by the reader.
	ReadThreads int

	// TotalReads supplies the record count of the
	// file when non-nil, so it is not counted again.
	TotalReads *uint64
}

// Source is an indexed alignment file.
type Source interface {
	// Kind returns the container kind.
	Kind() Kind

	// Header returns the SAM header of the file.
	Header() *sam.Header

	// Refs returns the reference sequences in
	// the order they appear in the header.
	Refs() []Ref

	// TotalReads returns the number of records in the file.
	TotalReads() uint64

	// Paired returns whether the file holds paired-end reads.
	// The value is determined once when the file is opened.
	Paired() bool

	// Query returns an iterator over the records overlapping
	// the region. At most one iterator may be open at a time.
	Query(region string) (Iterator, error)

	Close() error
}

// Iterator steps through the records of a query.
type Iterator interface {
	Next() bool
	Record() *sam.Record
	Error() error
	Close() error
}

// Open opens the alignment file described by opts.
func Open(opts Options) (Source, error) {
	kind, err := KindOf(opts.Alignment)
	if err != nil {
		return nil, err
	}
	switch kind {
	case BAM:
		return openBAM(opts)
	case CRAM:
		return openCRAM(opts)
	}
	panic("unreachable")
}

// Forced returns a copy of opts with pairing detection
// replaced by the given value.
func (o Options) Forced(paired bool) Options {
	o.Paired = &paired
	return o
}

// Counted returns a copy of opts with the record
// count of the file set to total.
func (o Options) Counted(total uint64) Options {
	o.TotalReads = &total
	return o
}

// empty is an Iterator over no records.
type empty struct{}

func (empty) Next() bool          { return false }
func (empty) Record() *sam.Record { return nil }
func (empty) Error() error        { return nil }
func (empty) Close() error        { return nil }

func refsOf(h *sam.Header) ([]Ref, map[string]int) {
	refs := make([]Ref, len(h.Refs()))
	byName := make(map[string]int, len(refs))
	for i, r := range h.Refs() {
		refs[i] = Ref{Name: r.Name(), Len: r.Len()}
		byName[r.Name()] = i
	}
	return refs, byName
}

// isPaired is the pairing heuristic applied to the first record.
func isPaired(r *sam.Record) bool {
	return r != nil && r.Flags&sam.Paired != 0
}

// overlaps returns whether r is placed on the reference named ref
// and overlaps the zero-based half-open interval [beg, end).
// Records with an empty alignment span occupy their start position.
func overlaps(r *sam.Record, ref string, beg, end int) bool {
	if r.Ref == nil || r.Ref.Name() != ref || r.Pos < 0 {
		return false
	}
	rEnd := r.End()
	if rEnd <= r.Pos {
		rEnd = r.Pos + 1
	}
	return r.Pos < end && beg < rEnd
}

// filtered is an Iterator that only yields records placed in a region.
type filtered struct {
	Iterator
	reg Region
}

func (f filtered) Next() bool {
	for f.Iterator.Next() {
		if overlaps(f.Record(), f.reg.Name, f.reg.Start-1, f.reg.End) {
			return true
		}
	}
	return false
}
