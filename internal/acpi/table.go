package acpi

import (
	"fmt"

	"github.com/sparseos/loader/internal/physmem"
)

// headerSize is the size of the common ACPI table header.
const headerSize = 36

// table describes a validated ACPI table: its identity plus the location of
// the payload that follows the common header.
type table struct {
	typ       TableType
	signature [4]byte
	length    uint32
	revision  uint8

	oemID           [6]byte
	oemTableID      uint64
	oemRevision     uint32
	creatorID       uint32
	creatorRevision uint32

	payloadAddr physmem.PhysAddr
	payloadLen  uint64
}

// parseTable reads the 36-byte common header at addr, derives the table type
// from the signature, and validates the checksum over the entire declared
// length. The declared length must cover at least the header itself.
func parseTable(mem physmem.Memory, addr physmem.PhysAddr) (table, error) {
	cur := physmem.NewCursor(mem, addr, headerSize)

	var t table
	sig, err := cur.Bytes(4)
	if err != nil {
		return table{}, err
	}
	copy(t.signature[:], sig)
	t.typ = tableTypeFor(t.signature)

	if t.length, err = cur.Uint32(); err != nil {
		return table{}, err
	}
	if t.revision, err = cur.Uint8(); err != nil {
		return table{}, err
	}
	if err = cur.Discard(1); err != nil { // checksum byte
		return table{}, err
	}
	oem, err := cur.Bytes(6)
	if err != nil {
		return table{}, err
	}
	copy(t.oemID[:], oem)
	if t.oemTableID, err = cur.Uint64(); err != nil {
		return table{}, err
	}
	if t.oemRevision, err = cur.Uint32(); err != nil {
		return table{}, err
	}
	if t.creatorID, err = cur.Uint32(); err != nil {
		return table{}, err
	}
	if t.creatorRevision, err = cur.Uint32(); err != nil {
		return table{}, err
	}

	if t.length < headerSize {
		return table{}, fmt.Errorf("%q: declared %d bytes, header is %d: %w",
			t.signature[:], t.length, headerSize, ErrLengthMismatch)
	}
	if err := checksum(mem, addr, uint64(t.length), t.typ); err != nil {
		return table{}, fmt.Errorf("%q: %w", t.signature[:], err)
	}

	if t.payloadAddr, err = addr.Add(headerSize); err != nil {
		return table{}, err
	}
	t.payloadLen = uint64(t.length) - headerSize
	return t, nil
}
