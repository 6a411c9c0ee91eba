// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filter decides which alignment records contribute to coverage.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/biogo/hts/sam"
)

// ErrFlags is returned for records whose flag word carries bits
// outside the defined SAM flags.
var ErrFlags = errors.New("filter: invalid record flags")

// definedFlags is the set of the twelve SAM flag bits.
const definedFlags = sam.Paired | sam.ProperPair | sam.Unmapped | sam.MateUnmapped |
	sam.Reverse | sam.MateReverse | sam.Read1 | sam.Read2 |
	sam.Secondary | sam.QCFail | sam.Duplicate | sam.Supplementary

// unavailableMapQ is the mapping quality marking an unavailable value.
const unavailableMapQ = 255

// Strand selects records by alignment orientation.
type Strand int

const (
	Both Strand = iota
	Forward
	Reverse
)

var strandNames = []string{Both: "both", Forward: "forward", Reverse: "reverse"}

func (s Strand) String() string {
	if s < 0 || int(s) >= len(strandNames) {
		return fmt.Sprintf("Strand(%d)", int(s))
	}
	return strandNames[s]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s Strand) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(strandNames) {
		return nil, fmt.Errorf("filter: invalid strand: %d", int(s))
	}
	return []byte(strandNames[s]), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *Strand) UnmarshalText(text []byte) error {
	i, err := lookup(strandNames, text)
	if err != nil {
		return fmt.Errorf("filter: invalid strand: %w", err)
	}
	*s = Strand(i)
	return nil
}

// PairMode selects how pairing and mapping state exclude records.
type PairMode int

const (
	// Strict excludes unmapped single-end reads and
	// paired reads that are not properly paired.
	Strict PairMode = iota

	// Lenient excludes only unmapped reads.
	Lenient

	// Off never excludes a record on pairing state.
	Off
)

var pairNames = []string{Strict: "strict", Lenient: "lenient", Off: "off"}

func (p PairMode) String() string {
	if p < 0 || int(p) >= len(pairNames) {
		return fmt.Sprintf("PairMode(%d)", int(p))
	}
	return pairNames[p]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (p PairMode) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(pairNames) {
		return nil, fmt.Errorf("filter: invalid pair mode: %d", int(p))
	}
	return []byte(pairNames[p]), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (p *PairMode) UnmarshalText(text []byte) error {
	i, err := lookup(pairNames, text)
	if err != nil {
		return fmt.Errorf("filter: invalid pair mode: %w", err)
	}
	*p = PairMode(i)
	return nil
}

func lookup(names []string, text []byte) (int, error) {
	t := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range names {
		if n == t {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%q not one of %s", text, strings.Join(names, ", "))
}

// Config is a record filter configuration. A Config is a plain
// value and is copied into each worker that uses it.
type Config struct {
	// MinMappingQuality is the lowest accepted mapping
	// quality. Zero disables the check.
	MinMappingQuality int `yaml:"min_mapping_quality"`

	// KeepDuplicates disables removal of
	// records flagged as duplicates.
	KeepDuplicates bool `yaml:"keep_duplicates"`

	Strand            Strand   `yaml:"strand"`
	SkipSecondary     bool     `yaml:"skip_secondary"`
	SkipSupplementary bool     `yaml:"skip_supplementary"`
	Pair              PairMode `yaml:"pair"`
}

// Default returns the default filter configuration.
func Default() Config {
	return Config{
		MinMappingQuality: 10,
		Strand:            Both,
		SkipSecondary:     true,
		SkipSupplementary: true,
		Pair:              Strict,
	}
}

// Apply returns whether rec is excluded by cfg. A record is excluded
// when any one of the configured checks fails.
func Apply(rec *sam.Record, cfg Config) (excluded bool, err error) {
	f := rec.Flags
	if f&^definedFlags != 0 {
		return false, fmt.Errorf("%w: %s: 0x%x", ErrFlags, rec.Name, uint16(f))
	}

	switch cfg.Pair {
	case Off:
	case Lenient:
		if f&sam.Unmapped != 0 {
			return true, nil
		}
	case Strict:
		if f&sam.Paired != 0 {
			if f&sam.ProperPair == 0 {
				return true, nil
			}
		} else if f&sam.Unmapped != 0 {
			return true, nil
		}
	default:
		return false, fmt.Errorf("filter: invalid pair mode: %d", int(cfg.Pair))
	}

	if cfg.MinMappingQuality > 0 && rec.MapQ != unavailableMapQ && int(rec.MapQ) < cfg.MinMappingQuality {
		return true, nil
	}
	if !cfg.KeepDuplicates && f&sam.Duplicate != 0 {
		return true, nil
	}
	switch cfg.Strand {
	case Both:
	case Forward:
		if f&sam.Reverse != 0 {
			return true, nil
		}
	case Reverse:
		if f&sam.Reverse == 0 {
			return true, nil
		}
	default:
		return false, fmt.Errorf("filter: invalid strand: %d", int(cfg.Strand))
	}
	if cfg.SkipSecondary && f&sam.Secondary != 0 {
		return true, nil
	}
	if cfg.SkipSupplementary && f&sam.Supplementary != 0 {
		return true, nil
	}
	return false, nil
}
