package acpi

import (
	"fmt"
	"log/slog"

	"github.com/sparseos/loader/internal/physmem"
)

// Discover validates the RSDP at rsdpAddr, walks the XSDT, and parses every
// MADT and SRAT it points at. Tables with any other signature are skipped;
// firmware ships tables this loader has no use for.
func Discover(mem physmem.Memory, rsdpAddr physmem.PhysAddr) (*Topology, error) {
	ext, err := parseRSDPExtended(mem, rsdpAddr)
	if err != nil {
		return nil, err
	}

	xsdt, err := parseTable(mem, ext.xsdtAddr)
	if err != nil {
		return nil, err
	}
	if xsdt.typ != TableXSDT {
		return nil, fmt.Errorf("%s: got %q: %w", TableXSDT, xsdt.signature[:], ErrSignatureMismatch)
	}
	if xsdt.payloadLen%8 != 0 {
		return nil, fmt.Errorf("payload %d bytes: %w", xsdt.payloadLen, ErrXSDTBadEntries)
	}

	topo := &Topology{}

	// The XSDT payload is an array of (possibly unaligned) 64-bit physical
	// addresses, one per table.
	cur := physmem.NewCursor(mem, xsdt.payloadAddr, xsdt.payloadLen)
	for cur.Len() >= 8 {
		entry, err := cur.Uint64()
		if err != nil {
			return nil, err
		}

		tbl, err := parseTable(mem, physmem.PhysAddr(entry))
		if err != nil {
			return nil, err
		}

		switch tbl.typ {
		case TableMADT:
			if err := parseMADT(mem, tbl, topo); err != nil {
				return nil, err
			}
		case TableSRAT:
			if err := parseSRAT(mem, tbl, topo); err != nil {
				return nil, err
			}
		default:
			slog.Debug("acpi: skipping table", "signature", string(tbl.signature[:]), "addr", entry)
		}
	}

	return topo, nil
}
