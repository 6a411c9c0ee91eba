// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cram reads CRAM file framing: the file definition, the SAM
// header held in the file header container and the record counts of
// data containers. It does not decode CRAM records.
package cram

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/biogo/hts/sam"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

var (
	// ErrCompression is returned for blocks using a compression
	// method that cannot be decoded.
	ErrCompression = errors.New("cram: unsupported block compression method")

	// ErrVersion is returned for CRAM major versions other than 2 and 3.
	ErrVersion = errors.New("cram: unsupported major version")
)

var cramMagic = [4]byte{'C', 'R', 'A', 'M'}

// Definition is the CRAM file definition. CRAM spec section 6.
type Definition struct {
	Magic [4]byte
	Major byte
	Minor byte
	ID    [20]byte
}

// ReadDefinition reads and checks the CRAM file definition from r.
func ReadDefinition(r io.Reader) (Definition, error) {
	var d Definition
	err := binary.Read(r, binary.LittleEndian, &d)
	if err != nil {
		return d, fmt.Errorf("cram: failed to read file definition: %v", err)
	}
	if d.Magic != cramMagic {
		return d, fmt.Errorf("cram: not a cram file: magic bytes %q", d.Magic[:])
	}
	if d.Major != 2 && d.Major != 3 {
		return d, fmt.Errorf("%w: %d.%d", ErrVersion, d.Major, d.Minor)
	}
	return d, nil
}

// Container is a CRAM container header. CRAM spec section 7.
type Container struct {
	// Length is the byte length of the container
	// body following the header.
	Length int32

	RefID         int32
	Start         int32
	Span          int32
	Records       int32
	RecordCounter int64
	Bases         int64
	Blocks        int32
	Landmarks     []int32
	CRC32         uint32
}

// IsEOF returns whether c is an end of file container.
func (c *Container) IsEOF() bool {
	return c.Records == 0 && c.RefID == -1 && c.Blocks == 1 && c.Length <= 15
}

func (c *Container) readFrom(r io.Reader, major byte) error {
	crc := crc32.NewIEEE()
	er := errorReader{r: io.TeeReader(r, crc)}
	var buf [4]byte
	_, err := io.ReadFull(&er, buf[:])
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("cram: truncated container header")
		}
		// A clean io.EOF here is the end of the stream.
		return err
	}
	c.Length = int32(binary.LittleEndian.Uint32(buf[:]))
	c.RefID = er.itf8()
	c.Start = er.itf8()
	c.Span = er.itf8()
	c.Records = er.itf8()
	c.RecordCounter = er.ltf8()
	c.Bases = er.ltf8()
	c.Blocks = er.itf8()
	c.Landmarks = er.itf8slice()
	if er.err != nil {
		return fmt.Errorf("cram: failed to read container header: %v", noEOF(er.err))
	}
	if c.Length < 0 {
		return fmt.Errorf("cram: invalid container length: %d", c.Length)
	}
	if major < 3 {
		return nil
	}
	sum := crc.Sum32()
	_, err = io.ReadFull(r, buf[:])
	if err != nil {
		return fmt.Errorf("cram: failed to read container crc32: %v", noEOF(err))
	}
	c.CRC32 = binary.LittleEndian.Uint32(buf[:])
	if c.CRC32 != sum {
		return fmt.Errorf("cram: container crc32 mismatch got:0x%08x want:0x%08x", sum, c.CRC32)
	}
	return nil
}

// Block compression methods. CRAM spec section 8.
const (
	rawMethod = iota
	gzipMethod
	bzip2Method
	lzmaMethod
	ransMethod
)

// Block content types.
const (
	fileHeader = iota
	compressionHeader
	mappedSliceHeader
	_ // reserved
	externalData
	coreData
)

type block struct {
	method         byte
	typ            byte
	contentID      int32
	compressedSize int32
	rawSize        int32
	data           []byte
	crc32          uint32
}

func (b *block) readFrom(r io.Reader, major byte) error {
	crc := crc32.NewIEEE()
	er := errorReader{r: io.TeeReader(r, crc)}
	var buf [4]byte
	io.ReadFull(&er, buf[:2])
	b.method = buf[0]
	b.typ = buf[1]
	b.contentID = er.itf8()
	b.compressedSize = er.itf8()
	b.rawSize = er.itf8()
	if er.err != nil {
		return fmt.Errorf("cram: failed to read block header: %v", noEOF(er.err))
	}
	if b.compressedSize < 0 || b.rawSize < 0 {
		return fmt.Errorf("cram: invalid block size")
	}
	if b.method == rawMethod && b.compressedSize != b.rawSize {
		return fmt.Errorf("cram: compressed (%d) != raw (%d) size for raw method", b.compressedSize, b.rawSize)
	}
	b.data = make([]byte, b.compressedSize)
	_, err := io.ReadFull(&er, b.data)
	if err != nil {
		return fmt.Errorf("cram: failed to read block data: %v", noEOF(err))
	}
	if major < 3 {
		return nil
	}
	sum := crc.Sum32()
	_, err = io.ReadFull(r, buf[:])
	if err != nil {
		return fmt.Errorf("cram: failed to read block crc32: %v", noEOF(err))
	}
	b.crc32 = binary.LittleEndian.Uint32(buf[:])
	if b.crc32 != sum {
		return fmt.Errorf("cram: block crc32 mismatch got:0x%08x want:0x%08x", sum, b.crc32)
	}
	return nil
}

// content returns the uncompressed block data.
func (b *block) content() ([]byte, error) {
	var r io.Reader
	switch b.method {
	case rawMethod:
		return b.data, nil
	case gzipMethod:
		gz, err := gzip.NewReader(bytes.NewReader(b.data))
		if err != nil {
			return nil, fmt.Errorf("cram: %v", err)
		}
		defer gz.Close()
		r = gz
	case bzip2Method:
		r = bzip2.NewReader(bytes.NewReader(b.data))
	case lzmaMethod:
		xr, err := xz.NewReader(bytes.NewReader(b.data))
		if err != nil {
			return nil, fmt.Errorf("cram: %v", err)
		}
		r = xr
	default:
		return nil, fmt.Errorf("%w: %d", ErrCompression, b.method)
	}
	buf := make([]byte, b.rawSize)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, fmt.Errorf("cram: failed to decompress block: %v", noEOF(err))
	}
	return buf, nil
}

// Reader reads CRAM containers.
type Reader struct {
	r   *bufio.Reader
	def Definition

	// body is the unread body of the last container.
	body int64
}

// NewReader returns a Reader positioned after the file definition.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	def, err := ReadDefinition(br)
	if err != nil {
		return nil, err
	}
	return &Reader{r: br, def: def}, nil
}

// Definition returns the file definition.
func (r *Reader) Definition() Definition { return r.def }

// Next returns the header of the next container, skipping the unread
// body of the previous one. It returns io.EOF at the end of the stream.
func (r *Reader) Next() (*Container, error) {
	err := r.skip()
	if err != nil {
		return nil, err
	}
	var c Container
	err = c.readFrom(r.r, r.def.Major)
	if err != nil {
		return nil, err
	}
	r.body = int64(c.Length)
	return &c, nil
}

func (r *Reader) skip() error {
	if r.body == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r.r, r.body)
	r.body = 0
	if err != nil {
		return fmt.Errorf("cram: failed to skip container body: %v", noEOF(err))
	}
	return nil
}

// Header reads the SAM header from the file header container. It must
// be called before any call to Next.
func (r *Reader) Header() (*sam.Header, error) {
	c, err := r.Next()
	if err != nil {
		return nil, fmt.Errorf("cram: failed to read file header container: %v", noEOF(err))
	}
	body := &io.LimitedReader{R: r.r, N: int64(c.Length)}
	var b block
	err = b.readFrom(body, r.def.Major)
	// Padding after the header block is skipped by the next call to Next.
	r.body = body.N
	if err != nil {
		return nil, err
	}
	if b.typ != fileHeader {
		return nil, fmt.Errorf("cram: unexpected first block content type: %d", b.typ)
	}
	data, err := b.content()
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, errors.New("cram: short file header block")
	}
	n := int32(binary.LittleEndian.Uint32(data))
	if n < 0 || int(n) > len(data)-4 {
		return nil, fmt.Errorf("cram: invalid header text length: %d", n)
	}
	h, err := sam.NewHeader(bytes.TrimRight(data[4:4+n], "\x00"), nil)
	if err != nil {
		return nil, fmt.Errorf("cram: %v", err)
	}
	return h, nil
}

// ReadHeader reads the SAM header of the CRAM stream in r.
func ReadHeader(r io.Reader) (*sam.Header, error) {
	cr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	return cr.Header()
}

// Count returns the sum of the declared record counts of the containers
// in the CRAM stream in r up to the end of file container. No record data
// is decoded.
func Count(r io.Reader) (uint64, error) {
	cr, err := NewReader(r)
	if err != nil {
		return 0, err
	}
	var n uint64
	for {
		c, err := cr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if c.IsEOF() {
			return n, nil
		}
		if c.Records < 0 {
			return n, fmt.Errorf("cram: negative record count in container at ref %d:%d", c.RefID, c.Start)
		}
		n += uint64(c.Records)
	}
}

// CountRecords returns the total number of records declared by the
// containers of the CRAM file at path.
func CountRecords(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Count(f)
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
