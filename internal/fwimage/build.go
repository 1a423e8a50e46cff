// Package fwimage synthesizes firmware images — ACPI tables plus an EFI
// memory map — from a machine description. The images exercise the same
// binary layouts the discovery code parses, which is what the test suite
// and cmd/mkfirmware use it for.
package fwimage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sparseos/loader/internal/physmem"
)

// mapStride is the descriptor stride the generated memory map reports.
// Real firmware pads descriptors past their 40-byte structure; the
// generated map does the same so consumers cannot get away with assuming
// the two are equal.
const mapStride = 48

// Machine is a built firmware image together with the firmware-shim facts
// a loader would get from boot services.
type Machine struct {
	Image *physmem.Image

	cfg Config
}

// New builds a firmware image for cfg.
func New(cfg Config) (*Machine, error) {
	cfg.normalize()

	memEnd := cfg.MemoryBase + cfg.MemorySize
	if cfg.TablesBase < cfg.MemoryBase || cfg.TablesBase >= memEnd {
		return nil, fmt.Errorf("fwimage: tables base %#x outside RAM", cfg.TablesBase)
	}
	if cfg.RSDPBase < cfg.MemoryBase || cfg.RSDPBase+rsdpSize > memEnd {
		return nil, fmt.Errorf("fwimage: RSDP base %#x outside RAM", cfg.RSDPBase)
	}

	img := physmem.NewImage(physmem.PhysAddr(cfg.MemoryBase), int(cfg.MemorySize))

	writer := newTableWriter(cfg.TablesBase, cfg.OEM)

	madtAddr := writer.Append(tableParams{
		Signature: sig("APIC"),
		Revision:  1,
		Body:      buildMADTBody(cfg),
	})

	entries := []uint64{madtAddr}
	if cfg.hasSRAT() {
		sratAddr := writer.Append(tableParams{
			Signature: sig("SRAT"),
			Revision:  3,
			Body:      buildSRATBody(cfg),
		})
		entries = append(entries, sratAddr)
	}

	xsdtAddr := writer.Append(tableParams{
		Signature: sig("XSDT"),
		Revision:  1,
		Body:      buildXSDTBody(entries),
	})

	tables := writer.Bytes()
	if cfg.TablesBase+uint64(len(tables)) > memEnd {
		return nil, fmt.Errorf("fwimage: tables need %d bytes past %#x, RAM ends at %#x", len(tables), cfg.TablesBase, memEnd)
	}
	if _, err := img.WriteAt(tables, int64(cfg.TablesBase)); err != nil {
		return nil, fmt.Errorf("fwimage: write tables: %w", err)
	}

	rsdp := buildRSDP(xsdtAddr, cfg.OEM)
	if _, err := img.WriteAt(rsdp, int64(cfg.RSDPBase)); err != nil {
		return nil, fmt.Errorf("fwimage: write RSDP: %w", err)
	}

	return &Machine{Image: img, cfg: cfg}, nil
}

// ACPIAddr returns the physical address of the RSDP, playing the part of
// the firmware's "get ACPI table" service.
func (m *Machine) ACPIAddr() (physmem.PhysAddr, bool) {
	return physmem.PhysAddr(m.cfg.RSDPBase), true
}

// MemoryMap returns the raw EFI memory map and its descriptor stride.
func (m *Machine) MemoryMap() ([]byte, int, error) {
	entries := m.cfg.MemoryMap
	if len(entries) == 0 {
		entries = []MapEntry{{
			Type:  7, // conventional memory
			Base:  m.cfg.MemoryBase,
			Pages: m.cfg.MemorySize / 4096,
		}}
	}

	raw := make([]byte, len(entries)*mapStride)
	for i, ent := range entries {
		d := raw[i*mapStride:]
		binary.LittleEndian.PutUint32(d[0:4], ent.Type)
		binary.LittleEndian.PutUint64(d[8:16], ent.Base)
		binary.LittleEndian.PutUint64(d[24:32], ent.Pages)
	}
	return raw, mapStride, nil
}

const rsdpSize = 36

func buildRSDP(xsdtAddr uint64, oem OEMInfo) []byte {
	rsdp := make([]byte, rsdpSize)
	copy(rsdp[0:], []byte("RSD PTR "))
	copy(rsdp[9:], oem.OEMID[:])
	rsdp[15] = 2 // revision
	binary.LittleEndian.PutUint32(rsdp[16:], 0)
	binary.LittleEndian.PutUint32(rsdp[20:], uint32(len(rsdp)))
	binary.LittleEndian.PutUint64(rsdp[24:], xsdtAddr)

	rsdp[8] = checksumFix(rsdp[:20])
	rsdp[32] = checksumFix(rsdp)
	return rsdp
}

func buildMADTBody(cfg Config) []byte {
	buf := &bytes.Buffer{}

	binary.Write(buf, binary.LittleEndian, cfg.LAPICBase)
	binary.Write(buf, binary.LittleEndian, uint32(1)) // PC-AT compatible

	for i, cpu := range cfg.CPUs {
		var flags uint32
		if !cpu.Disabled {
			flags = 1
		}
		if cpu.X2APIC {
			buf.WriteByte(9)  // local x2APIC
			buf.WriteByte(16) // length
			binary.Write(buf, binary.LittleEndian, uint16(0))
			binary.Write(buf, binary.LittleEndian, cpu.APICID)
			binary.Write(buf, binary.LittleEndian, flags)
			binary.Write(buf, binary.LittleEndian, uint32(i)) // UID
		} else {
			buf.WriteByte(0) // local APIC
			buf.WriteByte(8) // length
			buf.WriteByte(uint8(i))
			buf.WriteByte(uint8(cpu.APICID))
			binary.Write(buf, binary.LittleEndian, flags)
		}
	}

	return buf.Bytes()
}

func buildSRATBody(cfg Config) []byte {
	buf := &bytes.Buffer{}

	binary.Write(buf, binary.LittleEndian, uint32(1)) // reserved, must be 1
	buf.Write(make([]byte, 8))                        // reserved

	for _, cpu := range cfg.CPUs {
		if cpu.Domain == nil {
			continue
		}
		domain := *cpu.Domain
		if cpu.X2APIC {
			buf.WriteByte(2)  // x2APIC affinity
			buf.WriteByte(24) // length
			binary.Write(buf, binary.LittleEndian, uint16(0))
			binary.Write(buf, binary.LittleEndian, domain)
			binary.Write(buf, binary.LittleEndian, cpu.APICID)
			binary.Write(buf, binary.LittleEndian, uint32(1)) // enabled
			binary.Write(buf, binary.LittleEndian, uint32(0)) // clock domain
			binary.Write(buf, binary.LittleEndian, uint32(0)) // reserved
		} else {
			buf.WriteByte(0)  // processor local APIC affinity
			buf.WriteByte(16) // length
			buf.WriteByte(uint8(domain))
			buf.WriteByte(uint8(cpu.APICID))
			binary.Write(buf, binary.LittleEndian, uint32(1)) // enabled
			buf.WriteByte(0)                                  // local SAPIC EID
			buf.WriteByte(uint8(domain >> 8))
			buf.WriteByte(uint8(domain >> 16))
			buf.WriteByte(uint8(domain >> 24))
			binary.Write(buf, binary.LittleEndian, uint32(0)) // clock domain
		}
	}

	for _, dom := range cfg.Domains {
		for _, r := range dom.Ranges {
			buf.WriteByte(1)  // memory affinity
			buf.WriteByte(40) // length
			binary.Write(buf, binary.LittleEndian, dom.ID)
			binary.Write(buf, binary.LittleEndian, uint16(0))
			binary.Write(buf, binary.LittleEndian, r.Base)
			binary.Write(buf, binary.LittleEndian, r.Size)
			binary.Write(buf, binary.LittleEndian, uint32(0)) // reserved
			binary.Write(buf, binary.LittleEndian, uint32(1)) // enabled
			binary.Write(buf, binary.LittleEndian, uint64(0)) // reserved
		}
	}

	return buf.Bytes()
}

func buildXSDTBody(entries []uint64) []byte {
	buf := &bytes.Buffer{}
	for _, entry := range entries {
		binary.Write(buf, binary.LittleEndian, entry)
	}
	return buf.Bytes()
}
