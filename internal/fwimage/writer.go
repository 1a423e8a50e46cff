package fwimage

import (
	"bytes"
	"encoding/binary"
)

// tableWriter lays ACPI tables out back to back, stamping each with a
// header, length, and checksum, and handing back the physical address each
// table ended up at.
type tableWriter struct {
	buf  bytes.Buffer
	base uint64
	oem  OEMInfo
}

func newTableWriter(base uint64, oem OEMInfo) *tableWriter {
	return &tableWriter{base: base, oem: oem}
}

type tableParams struct {
	Signature [4]byte
	Revision  uint8
	Body      []byte
}

func (w *tableWriter) Append(params tableParams) uint64 {
	start := w.buf.Len()
	w.buf.Grow(36 + len(params.Body))

	header := make([]byte, 36)
	copy(header[:4], params.Signature[:])
	header[8] = params.Revision
	copy(header[10:16], w.oem.OEMID[:])
	copy(header[16:24], w.oem.OEMTableID[:])
	binary.LittleEndian.PutUint32(header[24:28], w.oem.OEMRevision)
	copy(header[28:32], w.oem.CreatorID[:])
	binary.LittleEndian.PutUint32(header[32:36], w.oem.CreatorRevision)

	w.buf.Write(header)
	if len(params.Body) > 0 {
		w.buf.Write(params.Body)
	}

	tableBytes := w.buf.Bytes()[start:]
	binary.LittleEndian.PutUint32(tableBytes[4:8], uint32(len(tableBytes)))
	tableBytes[9] = checksumFix(tableBytes)

	if pad := len(tableBytes) % 8; pad != 0 {
		w.buf.Write(make([]byte, 8-pad))
	}

	return w.base + uint64(start)
}

func (w *tableWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// checksumFix returns the byte that makes b sum to zero.
func checksumFix(b []byte) byte {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return byte(0 - sum)
}

func sig(name string) [4]byte {
	var out [4]byte
	copy(out[:], []byte(name))
	return out
}
