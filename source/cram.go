// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/biogo/hts/fai"
	"github.com/biogo/hts/sam"

	"github.com/ramin-shirali/bamcowig/cram"
	"github.com/ramin-shirali/bamcowig/index"
)

// DefaultSamtools is the executable used to decode CRAM records
// when Options.Samtools is empty.
const DefaultSamtools = "samtools"

// cramSource reads CRAM framing natively and delegates record
// decoding to samtools.
type cramSource struct {
	opts Options
	h    *sam.Header
	idx  *index.CraiIndex

	refs   []Ref
	byName map[string]int
	total  uint64
	paired bool

	// cur is the open query, if any.
	cur *samIterator
}

func openCRAM(opts Options) (*cramSource, error) {
	if opts.Samtools == "" {
		opts.Samtools = DefaultSamtools
	}
	idx, err := index.Load(opts.Index)
	if err != nil {
		return nil, err
	}
	ci, ok := idx.(*index.CraiIndex)
	if !ok {
		return nil, fmt.Errorf("%w: %v index for CRAM file %s", index.ErrUnsupportedFormat, idx.Kind(), opts.Alignment)
	}

	f, err := os.Open(opts.Alignment)
	if err != nil {
		return nil, fmt.Errorf("source: %v", err)
	}
	h, err := cram.ReadHeader(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("source: failed to read CRAM header from %s: %v", opts.Alignment, err)
	}
	refs, byName := refsOf(h)
	if n := ci.NumRefs(); n > len(refs) {
		return nil, fmt.Errorf("source: index %s describes %d references, header has %d", opts.Index, n, len(refs))
	}
	if opts.Reference != "" {
		err = checkReference(opts.Reference, refs)
		if err != nil {
			return nil, err
		}
	}

	s := &cramSource{
		opts:   opts,
		h:      h,
		idx:    ci,
		refs:   refs,
		byName: byName,
	}
	if opts.TotalReads != nil {
		s.total = *opts.TotalReads
	} else {
		// CRAI carries no read counts.
		s.total, err = cram.CountRecords(opts.Alignment)
		if err != nil {
			return nil, fmt.Errorf("source: counting records in %s: %v", opts.Alignment, err)
		}
	}
	if opts.Paired != nil {
		s.paired = *opts.Paired
	} else {
		s.paired, err = s.detectPairing()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// checkReference checks that every header reference is present in the
// FASTA index of the reference with the same length.
func checkReference(path string, refs []Ref) error {
	f, err := os.Open(path + ".fai")
	if err != nil {
		return fmt.Errorf("source: reference index: %v", err)
	}
	defer f.Close()
	idx, err := fai.ReadFrom(f)
	if err != nil {
		return fmt.Errorf("source: reference index %s.fai: %v", path, err)
	}
	for _, r := range refs {
		rec, ok := idx[r.Name]
		if !ok {
			return fmt.Errorf("source: reference %s has no sequence %q", path, r.Name)
		}
		if rec.Length != r.Len {
			return fmt.Errorf("source: reference %s length mismatch for %q: got:%d want:%d", path, r.Name, rec.Length, r.Len)
		}
	}
	return nil
}

func (s *cramSource) detectPairing() (bool, error) {
	it, err := s.view(nil)
	if err != nil {
		return false, err
	}
	var rec *sam.Record
	if it.Next() {
		rec = it.Record()
	}
	err = it.Error()
	it.Close()
	if err != nil {
		return false, err
	}
	return isPaired(rec), nil
}

func (s *cramSource) Kind() Kind          { return CRAM }
func (s *cramSource) Header() *sam.Header { return s.h }
func (s *cramSource) Refs() []Ref         { return s.refs }
func (s *cramSource) TotalReads() uint64  { return s.total }
func (s *cramSource) Paired() bool        { return s.paired }

func (s *cramSource) Query(region string) (Iterator, error) {
	reg, err := ParseRegion(region)
	if err != nil {
		return nil, err
	}
	ref, ok := s.byName[reg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reference %q", ErrQuery, reg.Name)
	}
	if s.idx.Slices(ref) == 0 {
		// No slice holds records for the reference.
		return empty{}, nil
	}
	it, err := s.view(&reg)
	if err != nil {
		return nil, err
	}
	return filtered{Iterator: it, reg: reg}, nil
}

// view starts samtools view over the region, or over the
// whole file when reg is nil.
func (s *cramSource) view(reg *Region) (*samIterator, error) {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	args := []string{"view"}
	if s.opts.ReadThreads > 1 {
		args = append(args, "-@", strconv.Itoa(s.opts.ReadThreads-1))
	}
	if s.opts.Reference != "" {
		args = append(args, "-T", s.opts.Reference)
	}
	if reg != nil {
		args = append(args, "-X", s.opts.Alignment, s.opts.Index, reg.String())
	} else {
		args = append(args, s.opts.Alignment)
	}
	cmd := exec.Command(s.opts.Samtools, args...)
	it := &samIterator{cmd: cmd}
	cmd.Stderr = &it.stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	it.out = out
	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrQuery, s.opts.Samtools, err)
	}
	s.cur = it
	return it, nil
}

func (s *cramSource) Close() error {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	return nil
}

// samIterator reads SAM records from a samtools view process.
type samIterator struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr bytes.Buffer

	r   *sam.Reader
	rec *sam.Record
	err error

	// waited is true once the process has been reaped.
	waited bool
}

func (i *samIterator) Next() bool {
	if i.err != nil {
		return false
	}
	var err error
	if i.r == nil {
		i.r, err = sam.NewReader(i.out)
	}
	if err == nil {
		i.rec, err = i.r.Read()
	}
	switch err {
	case nil:
		return true
	case io.EOF:
		i.finish()
	default:
		i.err = fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return false
}

// finish reaps a process whose output has been consumed.
func (i *samIterator) finish() {
	i.waited = true
	i.err = io.EOF
	err := i.cmd.Wait()
	if err == nil {
		return
	}
	msg := strings.TrimSpace(i.stderr.String())
	if msg == "" {
		i.err = fmt.Errorf("%w: %s: %v", ErrQuery, i.cmd.Path, err)
	} else {
		i.err = fmt.Errorf("%w: %s: %v: %s", ErrQuery, i.cmd.Path, err, msg)
	}
}

func (i *samIterator) Record() *sam.Record { return i.rec }

func (i *samIterator) Error() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close stops the process if its output has not been consumed.
func (i *samIterator) Close() error {
	if !i.waited {
		i.waited = true
		if i.cmd.Process != nil {
			i.cmd.Process.Kill()
		}
		i.out.Close()
		i.cmd.Wait()
	}
	return i.Error()
}
