// Package efi classifies the raw memory map handed back by firmware into
// the usable-memory range set the loader allocates from. Only the
// descriptor decoding and classification live here; the boot-services call
// that produces the raw buffer is the firmware shim's job.
package efi

import (
	"encoding/binary"
	"fmt"

	"github.com/sparseos/loader/internal/rangeset"
)

// EFI memory types, per UEFI spec table 7-5.
const (
	LoaderCode          = 1
	LoaderData          = 2
	BootServicesCode    = 3
	BootServicesData    = 4
	RuntimeServicesCode = 5
	RuntimeServicesData = 6
	ConventionalMemory  = 7
	UnusableMemory      = 8
	ACPIReclaimMemory   = 9
	ACPIMemoryNVS       = 10
	MemoryMappedIO      = 11
	PersistentMemory    = 14
)

// PageSize is the EFI page size; descriptor sizes are in pages.
const PageSize = 4096

// descriptorSize is the in-memory size of an EFI_MEMORY_DESCRIPTOR. The
// firmware-reported stride is usually larger; callers pass the stride the
// firmware reported alongside the buffer.
const descriptorSize = 40

// MemoryDescriptor is a decoded EFI_MEMORY_DESCRIPTOR.
type MemoryDescriptor struct {
	Type          uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// usableAfterBootServices reports whether memory of type t is free for the
// OS once boot services have been exited. Boot-service code and data become
// ours at that point; runtime services, ACPI reclaim/NVS and MMIO do not.
func usableAfterBootServices(t uint32) bool {
	switch t {
	case BootServicesCode, BootServicesData, ConventionalMemory, PersistentMemory:
		return true
	default:
		return false
	}
}

// UsableMemory folds a raw memory-map buffer into a range set of memory
// that is free once boot services exit. stride is the descriptor size the
// firmware reported; it may exceed the structure itself.
func UsableMemory(raw []byte, stride int) (*rangeset.Set, error) {
	if stride < descriptorSize {
		return nil, fmt.Errorf("efi: descriptor stride %d smaller than descriptor (%d)", stride, descriptorSize)
	}
	if len(raw)%stride != 0 {
		return nil, fmt.Errorf("efi: memory map length %d not a multiple of stride %d", len(raw), stride)
	}

	free := &rangeset.Set{}
	for off := 0; off < len(raw); off += stride {
		d := decodeDescriptor(raw[off : off+descriptorSize])
		if !usableAfterBootServices(d.Type) {
			continue
		}
		if d.NumberOfPages == 0 {
			continue
		}
		size := d.NumberOfPages * PageSize
		if size/PageSize != d.NumberOfPages {
			return nil, fmt.Errorf("efi: descriptor at %#x covers %d pages: size overflow", d.PhysicalStart, d.NumberOfPages)
		}
		end := d.PhysicalStart + size - 1
		if end < d.PhysicalStart {
			return nil, fmt.Errorf("efi: descriptor at %#x size %#x wraps the address space", d.PhysicalStart, size)
		}
		if err := free.Insert(rangeset.Range{Start: d.PhysicalStart, End: end}); err != nil {
			return nil, err
		}
	}
	return free, nil
}

func decodeDescriptor(b []byte) MemoryDescriptor {
	return MemoryDescriptor{
		Type: binary.LittleEndian.Uint32(b[0:4]),
		// 4 bytes of padding.
		PhysicalStart: binary.LittleEndian.Uint64(b[8:16]),
		VirtualStart:  binary.LittleEndian.Uint64(b[16:24]),
		NumberOfPages: binary.LittleEndian.Uint64(b[24:32]),
		Attribute:     binary.LittleEndian.Uint64(b[32:40]),
	}
}
