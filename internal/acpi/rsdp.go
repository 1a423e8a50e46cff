package acpi

import (
	"fmt"

	"github.com/sparseos/loader/internal/physmem"
)

const (
	rsdpSize         = 20 // ACPI 1.0 structure
	rsdpExtendedSize = 36 // ACPI 2.0+ structure, including the 1.0 prefix
)

var rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}

// rsdp is the ACPI 1.0 Root System Description Pointer.
type rsdp struct {
	oemID    [6]byte
	revision uint8
	rsdtAddr uint32
}

// rsdpExtended is the ACPI 2.0 RSDP. Only valid when revision >= 2.
type rsdpExtended struct {
	rsdp
	length   uint32
	xsdtAddr physmem.PhysAddr
}

// parseRSDP validates the 20-byte ACPI 1.0 RSDP at addr: the bytes must sum
// to zero and the signature must be "RSD PTR ".
func parseRSDP(mem physmem.Memory, addr physmem.PhysAddr) (rsdp, error) {
	if err := checksum(mem, addr, rsdpSize, TableRSDP); err != nil {
		return rsdp{}, err
	}

	cur := physmem.NewCursor(mem, addr, rsdpSize)

	sig, err := cur.Bytes(8)
	if err != nil {
		return rsdp{}, err
	}
	if [8]byte(sig) != rsdpSignature {
		return rsdp{}, fmt.Errorf("%s: got %q: %w", TableRSDP, sig, ErrSignatureMismatch)
	}

	// Checksum byte, already verified above.
	if err := cur.Discard(1); err != nil {
		return rsdp{}, err
	}

	var out rsdp
	oem, err := cur.Bytes(6)
	if err != nil {
		return rsdp{}, err
	}
	copy(out.oemID[:], oem)
	if out.revision, err = cur.Uint8(); err != nil {
		return rsdp{}, err
	}
	if out.rsdtAddr, err = cur.Uint32(); err != nil {
		return rsdp{}, err
	}
	return out, nil
}

// parseRSDPExtended validates the full ACPI 2.0 RSDP at addr. The 1.0
// prefix is validated first; a revision below 2 fails before anything past
// the 1.0 fields is read.
func parseRSDPExtended(mem physmem.Memory, addr physmem.PhysAddr) (rsdpExtended, error) {
	base, err := parseRSDP(mem, addr)
	if err != nil {
		return rsdpExtended{}, err
	}
	if base.revision < 2 {
		return rsdpExtended{}, fmt.Errorf("revision %d: %w", base.revision, ErrRevisionTooOld)
	}

	if err := checksum(mem, addr, rsdpExtendedSize, TableRSDPExtended); err != nil {
		return rsdpExtended{}, err
	}

	extAddr, err := addr.Add(rsdpSize)
	if err != nil {
		return rsdpExtended{}, err
	}
	cur := physmem.NewCursor(mem, extAddr, rsdpExtendedSize-rsdpSize)

	out := rsdpExtended{rsdp: base}
	if out.length, err = cur.Uint32(); err != nil {
		return rsdpExtended{}, err
	}
	if out.length != rsdpExtendedSize {
		return rsdpExtended{}, fmt.Errorf("%s: declared %d bytes: %w", TableRSDPExtended, out.length, ErrLengthMismatch)
	}
	xsdt, err := cur.Uint64()
	if err != nil {
		return rsdpExtended{}, err
	}
	out.xsdtAddr = physmem.PhysAddr(xsdt)
	// Extended checksum byte and 3 reserved bytes remain; both are covered
	// by the whole-structure checksum above.
	return out, nil
}
