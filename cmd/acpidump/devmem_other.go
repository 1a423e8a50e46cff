//go:build !linux

package main

import (
	"fmt"

	"github.com/sparseos/loader/internal/physmem"
)

func openDevMem(base physmem.PhysAddr, size uint64) (memCloser, error) {
	return nil, fmt.Errorf("-devmem is only supported on Linux")
}
