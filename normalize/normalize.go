// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package normalize scales binned coverage by library size.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrZeroDenominator is returned when a scale
	// factor would divide by zero.
	ErrZeroDenominator = errors.New("normalize: zero denominator")

	// ErrMethod is returned for unknown methods.
	ErrMethod = errors.New("normalize: unknown method")
)

// Method is a normalization method.
type Method int

const (
	// None leaves values unchanged.
	None Method = iota

	// CPM is counts per million reads.
	CPM

	// RPKM is reads per kilobase per million reads.
	RPKM

	// RPGC is reads per genomic content, scaling
	// to one times genome coverage.
	RPGC

	// BPM is bins per million, scaling by the
	// total of all bins.
	BPM
)

var methodNames = []string{None: "none", CPM: "cpm", RPKM: "rpkm", RPGC: "rpgc", BPM: "bpm"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod returns the method with the given case-insensitive name.
func ParseMethod(s string) (Method, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	for i, n := range methodNames {
		if n == t {
			return Method(i), nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrMethod, s)
}

// Params holds the library values used by the methods.
type Params struct {
	Method Method

	// TotalReads is the number of reads in the library.
	TotalReads uint64

	BinSize int

	// EffectiveGenomeSize and ReadLength
	// are used by RPGC.
	EffectiveGenomeSize int
	ReadLength          int
}

// Factor returns the scale factor applied to every bin of rows.
func Factor(rows [][]float64, p Params) (float64, error) {
	switch p.Method {
	case None:
		return 1, nil
	case CPM:
		if p.TotalReads == 0 {
			return 0, fmt.Errorf("%w: cpm: no reads", ErrZeroDenominator)
		}
		return 1e6 / float64(p.TotalReads), nil
	case RPKM:
		d := float64(p.TotalReads) * float64(p.BinSize)
		if d == 0 {
			return 0, fmt.Errorf("%w: rpkm: reads=%d bin size=%d", ErrZeroDenominator, p.TotalReads, p.BinSize)
		}
		return 1e9 / d, nil
	case RPGC:
		if p.EffectiveGenomeSize <= 0 {
			return 0, fmt.Errorf("normalize: rpgc: effective genome size must be positive: %d", p.EffectiveGenomeSize)
		}
		d := float64(p.TotalReads) * float64(p.ReadLength)
		if d == 0 {
			return 0, fmt.Errorf("%w: rpgc: reads=%d read length=%d", ErrZeroDenominator, p.TotalReads, p.ReadLength)
		}
		return float64(p.EffectiveGenomeSize) / d, nil
	case BPM:
		var sum float64
		for _, r := range rows {
			sum += floats.Sum(r)
		}
		if sum == 0 {
			return 0, fmt.Errorf("%w: bpm: empty coverage", ErrZeroDenominator)
		}
		return 1e6 / sum, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrMethod, p.Method)
	}
}

// Apply returns rows scaled by the factor for p. The
// returned rows are newly allocated; rows is not modified.
func Apply(rows [][]float64, p Params) ([][]float64, error) {
	f, err := Factor(rows, p)
	if err != nil {
		return nil, err
	}
	dst := make([][]float64, len(rows))
	parallel.Range(0, len(rows), 0, func(low, high int) {
		for i := low; i < high; i++ {
			dst[i] = make([]float64, len(rows[i]))
			floats.ScaleTo(dst[i], f, rows[i])
		}
	})
	return dst, nil
}
