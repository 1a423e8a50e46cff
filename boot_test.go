package loader

import (
	"errors"
	"testing"

	"github.com/sparseos/loader/internal/acpi"
	"github.com/sparseos/loader/internal/fwimage"
	"github.com/sparseos/loader/internal/physmem"
)

type noACPIFirmware struct {
	*fwimage.Machine
}

func (noACPIFirmware) ACPIAddr() (physmem.PhysAddr, bool) { return 0, false }

func TestDiscover(t *testing.T) {
	domain := uint32(0)
	machine, err := fwimage.New(fwimage.Config{
		MemorySize: 4 << 20,
		CPUs: []fwimage.CPUConfig{
			{APICID: 0, Domain: &domain},
			{APICID: 1, Domain: &domain},
		},
		Domains: []fwimage.DomainConfig{
			{ID: 0, Ranges: []fwimage.RangeConfig{{Base: 0, Size: 4 << 20}}},
		},
	})
	if err != nil {
		t.Fatalf("build firmware: %v", err)
	}

	info, err := Discover(machine.Image, machine)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if len(info.Topology.CPUs) != 2 {
		t.Fatalf("expected 2 CPUs, got %v", info.Topology.CPUs)
	}
	if len(info.Topology.MemoryAffinities) != 1 {
		t.Fatalf("expected 1 memory affinity, got %v", info.Topology.MemoryAffinities)
	}

	total, ok := info.Free.Sum()
	if !ok {
		t.Fatalf("sum overflowed")
	}
	if total != 4<<20 {
		t.Fatalf("expected %#x usable bytes, got %#x", 4<<20, total)
	}

	// The usable set is live: carve the boot stage's first allocation out
	// of it.
	base, err := info.Free.Allocate(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base%0x1000 != 0 {
		t.Fatalf("allocation %#x not page aligned", base)
	}
	total, _ = info.Free.Sum()
	if total != 4<<20-0x1000 {
		t.Fatalf("expected %#x after allocation, got %#x", 4<<20-0x1000, total)
	}
}

func TestDiscoverWithoutACPITable(t *testing.T) {
	machine, err := fwimage.New(fwimage.Config{
		MemorySize: 2 << 20,
		CPUs:       []fwimage.CPUConfig{{APICID: 0}},
	})
	if err != nil {
		t.Fatalf("build firmware: %v", err)
	}

	_, err = Discover(machine.Image, noACPIFirmware{machine})
	if !errors.Is(err, acpi.ErrRSDPNotFound) {
		t.Fatalf("expected ErrRSDPNotFound, got %v", err)
	}
}
