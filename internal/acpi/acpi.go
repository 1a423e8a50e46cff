// Package acpi locates and validates the firmware topology tables a loader
// needs before paging exists: RSDP, XSDT, MADT (CPUs) and SRAT (NUMA
// affinity). Tables are read through a physmem.Memory port, validated with
// strict checksum and length discipline, and folded into a Topology value;
// nothing retains a live view into firmware memory after validation.
package acpi

import (
	"errors"
	"fmt"

	"github.com/sparseos/loader/internal/physmem"
	"github.com/sparseos/loader/internal/rangeset"
)

var (
	// ErrRSDPNotFound is returned when firmware reported no ACPI table
	// address.
	ErrRSDPNotFound = errors.New("acpi: RSDP not found")

	ErrChecksumMismatch  = errors.New("acpi: checksum mismatch")
	ErrSignatureMismatch = errors.New("acpi: signature mismatch")
	ErrLengthMismatch    = errors.New("acpi: length mismatch")
	ErrRevisionTooOld    = errors.New("acpi: revision too old, ACPI 2.0 required")
	ErrXSDTBadEntries    = errors.New("acpi: XSDT payload not a multiple of 8 bytes")
)

// TableType identifies the tables this package knows how to validate and
// dispatch. Anything else is Unknown and skipped.
type TableType uint8

const (
	TableUnknown TableType = iota
	TableRSDP
	TableRSDPExtended
	TableXSDT
	TableMADT
	TableSRAT
)

func (t TableType) String() string {
	switch t {
	case TableRSDP:
		return "RSDP"
	case TableRSDPExtended:
		return "RSDP (extended)"
	case TableXSDT:
		return "XSDT"
	case TableMADT:
		return "MADT"
	case TableSRAT:
		return "SRAT"
	default:
		return "unknown"
	}
}

func tableTypeFor(sig [4]byte) TableType {
	switch string(sig[:]) {
	case "XSDT":
		return TableXSDT
	case "APIC":
		return TableMADT
	case "SRAT":
		return TableSRAT
	default:
		return TableUnknown
	}
}

// CPU is a logical processor discovered from a MADT local APIC or local
// x2APIC record that passed the enabled test.
type CPU struct {
	UID    uint32
	APICID uint32
	X2APIC bool
}

// ProcessorAffinity associates an APIC id with a NUMA domain.
type ProcessorAffinity struct {
	APICID uint32
	Domain uint32
}

// MemoryAffinity associates a physical memory range with a NUMA domain.
type MemoryAffinity struct {
	Domain uint32
	Range  rangeset.Range
}

// Topology holds the facts extracted from the firmware tables. How these
// feed per-domain allocation is the caller's concern; this package only
// reports what the firmware declared.
type Topology struct {
	// LocalAPICAddr and MADTFlags come from the fixed MADT prefix. Reported
	// as-is; nothing downstream consumes them yet.
	LocalAPICAddr uint32
	MADTFlags     uint32

	CPUs                []CPU
	ProcessorAffinities []ProcessorAffinity
	MemoryAffinities    []MemoryAffinity
}

// checksum sums size bytes at addr as 8-bit values with wraparound and
// succeeds iff the sum is exactly zero. Address arithmetic is checked
// against the 64-bit address space.
func checksum(mem physmem.Memory, addr physmem.PhysAddr, size uint64, typ TableType) error {
	if size > 0 {
		if _, err := addr.Add(size - 1); err != nil {
			return err
		}
	}

	var sum uint8
	buf := make([]byte, 4096)
	for off := uint64(0); off < size; {
		chunk := buf
		if rem := size - off; rem < uint64(len(chunk)) {
			chunk = chunk[:rem]
		}
		at, err := addr.Add(off)
		if err != nil {
			return err
		}
		if _, err := mem.ReadAt(chunk, int64(at)); err != nil {
			return err
		}
		for _, b := range chunk {
			sum += b
		}
		off += uint64(len(chunk))
	}

	if sum != 0 {
		return fmt.Errorf("%s: %w", typ, ErrChecksumMismatch)
	}
	return nil
}
