// Command mkfirmware builds a firmware image file (ACPI tables plus an EFI
// memory map) from a YAML machine description. The images feed loader
// development and the acpidump tool.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sparseos/loader/internal/fwimage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfirmware: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML machine description")
	out := flag.String("o", "firmware.img", "Output image path")
	mapOut := flag.String("memmap", "", "Also write the raw EFI memory map to this path")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -config machine.yaml [-o firmware.img]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Build a firmware image from a machine description.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *configPath == "" {
		flag.Usage()
		return fmt.Errorf("-config is required")
	}

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		return err
	}
	var cfg fwimage.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", *configPath, err)
	}

	machine, err := fwimage.New(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(*out, machine.Image.Data, 0o644); err != nil {
		return err
	}
	rsdp, _ := machine.ACPIAddr()
	slog.Info("wrote firmware image", "path", *out,
		"base", fmt.Sprintf("%#x", uint64(machine.Image.Base)),
		"rsdp", fmt.Sprintf("%#x", uint64(rsdp)))

	if *mapOut != "" {
		mm, stride, err := machine.MemoryMap()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*mapOut, mm, 0o644); err != nil {
			return err
		}
		slog.Info("wrote memory map", "path", *mapOut, "stride", stride)
	}

	return nil
}
