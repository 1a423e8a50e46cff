package acpi

import (
	"fmt"
	"log/slog"

	"github.com/sparseos/loader/internal/physmem"
	"github.com/sparseos/loader/internal/rangeset"
)

// SRAT static resource allocation structure types.
const (
	sratProcessorAffinity = 0
	sratMemoryAffinity    = 1
	sratX2APICAffinity    = 2
)

// Affinity structure flag bit 0: the entry is enabled and should be used.
const sratEnabled = 1 << 0

// parseSRAT walks the affinity structures of a validated SRAT and appends
// processor and memory affinity facts to topo. Truncation is tolerated the
// same way as in the MADT. Zero-size memory ranges occur on real firmware
// and are skipped, not errored.
func parseSRAT(mem physmem.Memory, tbl table, topo *Topology) error {
	cur := physmem.NewCursor(mem, tbl.payloadAddr, tbl.payloadLen)

	// 4 reserved bytes (historically "table revision") plus 8 more.
	if err := cur.Discard(12); err != nil {
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
			return fmt.Errorf("%s: record length %d: %w", TableSRAT, length, ErrLengthMismatch)
		}
		data := uint64(length) - 2
		if data > cur.Len() {
			break
		}

		switch typ {
		case sratProcessorAffinity:
			if data != 14 {
				return fmt.Errorf("%s: processor affinity record %d bytes: %w", TableSRAT, length, ErrLengthMismatch)
			}
			domainLo, err := cur.Uint8()
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
			if err := cur.Discard(1); err != nil { // local SAPIC EID
				return err
			}
			domainHi, err := cur.Bytes(3)
			if err != nil {
				return err
			}
			if err := cur.Discard(4); err != nil { // clock domain
				return err
			}

			// The domain is split across the record: low byte up front,
			// high three bytes near the end.
			domain := uint32(domainLo) |
				uint32(domainHi[0])<<8 |
				uint32(domainHi[1])<<16 |
				uint32(domainHi[2])<<24

			if flags&sratEnabled != 0 {
				topo.ProcessorAffinities = append(topo.ProcessorAffinities,
					ProcessorAffinity{APICID: uint32(apicID), Domain: domain})
			}

		case sratMemoryAffinity:
			if data != 38 {
				return fmt.Errorf("%s: memory affinity record %d bytes: %w", TableSRAT, length, ErrLengthMismatch)
			}
			domain, err := cur.Uint32()
			if err != nil {
				return err
			}
			if err := cur.Discard(2); err != nil { // reserved
				return err
			}
			base, err := cur.Uint64()
			if err != nil {
				return err
			}
			size, err := cur.Uint64()
			if err != nil {
				return err
			}
			if err := cur.Discard(4); err != nil { // reserved
				return err
			}
			flags, err := cur.Uint32()
			if err != nil {
				return err
			}
			if err := cur.Discard(8); err != nil { // reserved
				return err
			}

			if flags&sratEnabled != 0 && size > 0 {
				end := base + size - 1
				if end < base {
					return fmt.Errorf("%s: memory range %#x+%#x: %w", TableSRAT, base, size, physmem.ErrIntegerOverflow)
				}
				topo.MemoryAffinities = append(topo.MemoryAffinities,
					MemoryAffinity{Domain: domain, Range: rangeset.Range{Start: base, End: end}})
			}

		case sratX2APICAffinity:
			if data != 22 {
				return fmt.Errorf("%s: x2APIC affinity record %d bytes: %w", TableSRAT, length, ErrLengthMismatch)
			}
			if err := cur.Discard(2); err != nil { // reserved
				return err
			}
			domain, err := cur.Uint32()
			if err != nil {
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
			if err := cur.Discard(8); err != nil { // clock domain + reserved
				return err
			}

			if flags&sratEnabled != 0 {
				topo.ProcessorAffinities = append(topo.ProcessorAffinities,
					ProcessorAffinity{APICID: apicID, Domain: domain})
			}

		default:
			slog.Debug("acpi: skipping SRAT record", "type", typ, "length", length)
			if err := cur.Discard(data); err != nil {
				return err
			}
		}
	}

	return nil
}
