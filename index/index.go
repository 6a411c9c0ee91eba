// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package index loads BAI, CSI and CRAI alignment indexes and extracts
// aggregate read counts from BAI and CSI reference statistics.
package index

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/mmap"
)

var (
	// ErrIndexNotFound is returned when the index path does not exist.
	ErrIndexNotFound = errors.New("index: index file not found")

	// ErrUnsupportedFormat is returned for index files with an
	// unrecognised extension.
	ErrUnsupportedFormat = errors.New("index: unsupported index format")
)

// Kind is the kind of an alignment index.
type Kind int

const (
	BAI  Kind = iota // BAM index.
	CSI              // Coordinate sorted index.
	CRAI             // CRAM index.
)

func (k Kind) String() string {
	switch k {
	case BAI:
		return "bai"
	case CSI:
		return "csi"
	case CRAI:
		return "crai"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindOf returns the index kind implied by the extension of path.
func KindOf(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bai":
		return BAI, nil
	case ".csi":
		return CSI, nil
	case ".crai":
		return CRAI, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
}

// Index is a loaded alignment index.
type Index interface {
	// Kind returns the kind of the index.
	Kind() Kind

	// NumRefs returns the number of references in the index.
	NumRefs() int

	// TotalReads returns the total number of records described
	// by the index and whether the index carries that count.
	TotalReads() (n uint64, ok bool)
}

// Load reads the index at path. The kind of index is determined by
// the file extension.
func Load(path string) (Index, error) {
	_, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("index: %v", err)
	}
	kind, err := KindOf(path)
	if err != nil {
		return nil, err
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: failed to map %s: %v", path, err)
	}
	defer m.Close()
	r := io.NewSectionReader(m, 0, int64(m.Len()))

	var idx Index
	switch kind {
	case BAI:
		idx, err = ReadBAI(r)
	case CSI:
		idx, err = ReadCSI(r)
	case CRAI:
		idx, err = ReadCRAI(r)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}
