// Command acpidump walks the ACPI topology tables in a firmware image file
// (or /dev/mem on Linux) and prints the CPUs and NUMA affinity it finds.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/sparseos/loader/internal/acpi"
	"github.com/sparseos/loader/internal/physmem"
)

// memCloser is a physical-memory port that needs closing, like a /dev/mem
// window.
type memCloser interface {
	physmem.Memory
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "acpidump: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	image := flag.String("image", "", "Raw physical memory image to inspect")
	base := flag.String("base", "0", "Physical address the image starts at")
	rsdp := flag.String("rsdp", "", "Physical address of the RSDP")
	devmem := flag.Bool("devmem", false, "Read /dev/mem instead of an image (Linux, requires root)")
	size := flag.String("size", "0x100000", "Window size when using -devmem")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -image firmware.img -base 0x0 -rsdp 0x1000\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Walk ACPI topology tables and print CPUs and NUMA affinity.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *rsdp == "" {
		flag.Usage()
		return fmt.Errorf("-rsdp is required")
	}
	rsdpAddr, err := parseAddr(*rsdp)
	if err != nil {
		return fmt.Errorf("-rsdp: %w", err)
	}

	var mem physmem.Memory
	switch {
	case *devmem:
		baseAddr, err := parseAddr(*base)
		if err != nil {
			return fmt.Errorf("-base: %w", err)
		}
		windowSize, err := parseAddr(*size)
		if err != nil {
			return fmt.Errorf("-size: %w", err)
		}
		window, err := openDevMem(baseAddr, uint64(windowSize))
		if err != nil {
			return err
		}
		defer window.Close()
		mem = window

	case *image != "":
		baseAddr, err := parseAddr(*base)
		if err != nil {
			return fmt.Errorf("-base: %w", err)
		}
		data, err := os.ReadFile(*image)
		if err != nil {
			return err
		}
		mem = &physmem.Image{Base: baseAddr, Data: data}

	default:
		flag.Usage()
		return fmt.Errorf("either -image or -devmem is required")
	}

	topo, err := acpi.Discover(mem, rsdpAddr)
	if err != nil {
		return err
	}

	fmt.Printf("local APIC at %#x\n", topo.LocalAPICAddr)
	fmt.Printf("%d CPU(s):\n", len(topo.CPUs))
	for _, cpu := range topo.CPUs {
		kind := "lapic"
		if cpu.X2APIC {
			kind = "x2apic"
		}
		fmt.Printf("  uid %-4d %s id %#x\n", cpu.UID, kind, cpu.APICID)
	}
	if len(topo.ProcessorAffinities) > 0 {
		fmt.Printf("%d processor affinity record(s):\n", len(topo.ProcessorAffinities))
		for _, aff := range topo.ProcessorAffinities {
			fmt.Printf("  apic %#x -> domain %d\n", aff.APICID, aff.Domain)
		}
	}
	if len(topo.MemoryAffinities) > 0 {
		fmt.Printf("%d memory affinity record(s):\n", len(topo.MemoryAffinities))
		for _, aff := range topo.MemoryAffinities {
			fmt.Printf("  [%#x, %#x] -> domain %d\n", aff.Range.Start, aff.Range.End, aff.Domain)
		}
	}
	return nil
}

func parseAddr(s string) (physmem.PhysAddr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return physmem.PhysAddr(v), nil
}
