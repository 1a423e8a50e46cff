//go:build linux

package main

import "github.com/sparseos/loader/internal/physmem"

func openDevMem(base physmem.PhysAddr, size uint64) (memCloser, error) {
	return physmem.OpenDevMem(base, size)
}
