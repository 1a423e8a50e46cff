package acpi

import (
	"fmt"
	"log/slog"

	"github.com/sparseos/loader/internal/physmem"
)

// MADT interrupt controller structure types this parser understands.
const (
	icsLocalAPIC   = 0
	icsLocalX2APIC = 9
)

// Local APIC flag bits. A processor counts as usable if it is either
// enabled or can be brought online later.
const (
	lapicEnabled       = 1 << 0
	lapicOnlineCapable = 1 << 1
)

// parseMADT walks the interrupt controller structures of a validated MADT
// and appends every usable CPU to topo. A record whose declared length runs
// past the table is treated as firmware truncation and stops the walk
// without error.
func parseMADT(mem physmem.Memory, tbl table, topo *Topology) error {
	cur := physmem.NewCursor(mem, tbl.payloadAddr, tbl.payloadLen)

	var err error
	if topo.LocalAPICAddr, err = cur.Uint32(); err != nil {
		return err
	}
	if topo.MADTFlags, err = cur.Uint32(); err != nil {
		return err
	}

	for cur.Len() >= 2 {
		typ, err := cur.Uint8()
		if err != nil {
			return err
		}
		length, err := cur.Uint8()
		if err != nil {
			return err
		}
		if length < 2 {
			return fmt.Errorf("%s: ICS record length %d: %w", TableMADT, length, ErrLengthMismatch)
		}
		data := uint64(length) - 2
		if data > cur.Len() {
			// Truncated table; take what parsed so far.
			break
		}

		switch typ {
		case icsLocalAPIC:
			if data != 6 {
				return fmt.Errorf("%s: local APIC record %d bytes: %w", TableMADT, length, ErrLengthMismatch)
			}
			uid, err := cur.Uint8()
			if err != nil {
				return err
			}
			apicID, err := cur.Uint8()
			if err != nil {
				return err
			}
			flags, err := cur.Uint32()
			if err != nil {
				return err
			}
			if flags&(lapicEnabled|lapicOnlineCapable) != 0 {
				topo.CPUs = append(topo.CPUs, CPU{UID: uint32(uid), APICID: uint32(apicID)})
			}

		case icsLocalX2APIC:
			if data != 14 {
				return fmt.Errorf("%s: x2APIC record %d bytes: %w", TableMADT, length, ErrLengthMismatch)
			}
			if err := cur.Discard(2); err != nil { // reserved
				return err
			}
			apicID, err := cur.Uint32()
			if err != nil {
				return err
			}
			flags, err := cur.Uint32()
			if err != nil {
				return err
			}
			uid, err := cur.Uint32()
			if err != nil {
				return err
			}
			if flags&(lapicEnabled|lapicOnlineCapable) != 0 {
				topo.CPUs = append(topo.CPUs, CPU{UID: uid, APICID: apicID, X2APIC: true})
			}

		default:
			slog.Debug("acpi: skipping MADT record", "type", typ, "length", length)
			if err := cur.Discard(data); err != nil {
				return err
			}
		}
	}

	return nil
}
