// Package loader is the boot-time physical-memory discovery core of a
// minimal OS loader: it validates the firmware topology tables (RSDP, XSDT,
// MADT, SRAT) and folds the firmware memory map into a fixed-capacity range
// set that the rest of the boot stage allocates from.
package loader

import (
	"fmt"

	"github.com/sparseos/loader/internal/acpi"
	"github.com/sparseos/loader/internal/efi"
	"github.com/sparseos/loader/internal/physmem"
	"github.com/sparseos/loader/internal/rangeset"
)

// Firmware is the firmware call shim: the two boot-services facts discovery
// needs. It is constructed once at boot and passed in explicitly; there is
// no global table pointer.
type Firmware interface {
	// ACPIAddr returns the physical address of the RSDP, or false if the
	// firmware reported no ACPI table.
	ACPIAddr() (physmem.PhysAddr, bool)

	// MemoryMap returns the raw memory map and the descriptor stride the
	// firmware reported.
	MemoryMap() (raw []byte, stride int, err error)
}

// BootInfo is everything Discover learns about the machine.
type BootInfo struct {
	// Topology holds the CPU set and NUMA affinity facts from the MADT and
	// SRAT. Affinity facts are reported, not yet folded into per-domain
	// allocation.
	Topology *acpi.Topology

	// Free is the physical memory usable once boot services exit. Callers
	// carve the boot stage's allocations out of it.
	Free *rangeset.Set
}

// Discover runs once at boot: it validates the topology tables and
// classifies the firmware memory map. Any validation failure aborts
// discovery; a machine with invalid topology data has no fallback here and
// the caller decides whether to halt.
func Discover(mem physmem.Memory, fw Firmware) (*BootInfo, error) {
	rsdpAddr, ok := fw.ACPIAddr()
	if !ok {
		return nil, acpi.ErrRSDPNotFound
	}

	topo, err := acpi.Discover(mem, rsdpAddr)
	if err != nil {
		return nil, fmt.Errorf("walk ACPI tables: %w", err)
	}

	raw, stride, err := fw.MemoryMap()
	if err != nil {
		return nil, fmt.Errorf("get memory map: %w", err)
	}
	free, err := efi.UsableMemory(raw, stride)
	if err != nil {
		return nil, fmt.Errorf("classify memory map: %w", err)
	}

	return &BootInfo{Topology: topo, Free: free}, nil
}
