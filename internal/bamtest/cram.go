// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bamtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/cram/encoding/itf8"
)

// eof is the CRAM v3 end of file container.
var eof = []byte{
	0x0f, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff,
	0x0f, 0xe0, 0x45, 0x4f, 0x46, 0x00, 0x00, 0x00,
	0x00, 0x01, 0x00, 0x05, 0xbd, 0xd9, 0x4f, 0x00,
	0x01, 0x00, 0x06, 0x06, 0x01, 0x00, 0x01, 0x00,
	0x01, 0x00, 0xee, 0x63, 0x01, 0x4b,
}

// Container describes a CRAM data container placed on the
// reference with index Ref and declaring Records records.
type Container struct {
	Ref     int
	Records int
}

// WriteCRAM writes the framing of a CRAM 3.0 file into dir as
// name.cram with a plain text CRAI alongside. The file holds the
// header for refs and one single slice data container for each
// element of containers. No record data is written; tests decode
// records through a stand-in samtools.
func WriteCRAM(dir, name string, refs []Ref, containers []Container) (cramPath, craiPath string, err error) {
	var text strings.Builder
	text.WriteString("@HD\tVN:1.6\tSO:coordinate\n")
	for _, r := range refs {
		fmt.Fprintf(&text, "@SQ\tSN:%s\tLN:%d\n", r.Name, r.Len)
	}
	raw := make([]byte, 4, 4+text.Len())
	binary.LittleEndian.PutUint32(raw, uint32(text.Len()))
	raw = append(raw, text.String()...)

	var buf bytes.Buffer
	buf.WriteString("CRAM\x03\x00")
	buf.Write(make([]byte, 20))
	buf.Write(container(0, 0, 0, block(0, raw)))

	var crai strings.Builder
	for i, c := range containers {
		off := buf.Len()
		body := block(1, []byte{0})
		buf.Write(container(c.Ref, i*100+1, c.Records, body))
		fmt.Fprintf(&crai, "%d\t%d\t100\t%d\t0\t%d\n", c.Ref, i*100+1, off, len(body))
	}
	buf.Write(eof)

	cramPath = filepath.Join(dir, name+".cram")
	err = os.WriteFile(cramPath, buf.Bytes(), 0o644)
	if err != nil {
		return "", "", err
	}
	craiPath = cramPath + ".crai"
	err = os.WriteFile(craiPath, []byte(crai.String()), 0o644)
	if err != nil {
		return "", "", err
	}
	return cramPath, craiPath, nil
}

func container(ref, start, records int, body []byte) []byte {
	var h []byte
	h = binary.LittleEndian.AppendUint32(h, uint32(len(body)))
	h = append(h, putITF8(int32(ref))...)
	h = append(h, putITF8(int32(start))...)
	h = append(h, putITF8(100)...)
	h = append(h, putITF8(int32(records))...)
	h = append(h, 0, 0) // record counter and bases as ltf8 zero.
	h = append(h, putITF8(1)...)
	h = append(h, putITF8(0)...)
	h = binary.LittleEndian.AppendUint32(h, crc32.ChecksumIEEE(h))
	return append(h, body...)
}

func block(typ byte, data []byte) []byte {
	b := []byte{0, typ}
	b = append(b, putITF8(0)...)
	b = append(b, putITF8(int32(len(data)))...)
	b = append(b, putITF8(int32(len(data)))...)
	b = append(b, data...)
	return binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
}

func putITF8(v int32) []byte {
	var b [5]byte
	return b[:itf8.Encode(b[:], v)]
}

// Samtools writes an executable stand-in for samtools into dir that
// ignores its arguments and prints the SAM text, and returns its path.
func Samtools(dir, sam string) (string, error) {
	records := filepath.Join(dir, "samtools.sam")
	err := os.WriteFile(records, []byte(sam), 0o644)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "samtools")
	err = os.WriteFile(path, []byte(fmt.Sprintf("#!/bin/sh\ncat %q\n", records)), 0o755)
	if err != nil {
		return "", err
	}
	return path, nil
}
