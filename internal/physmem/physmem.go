// Package physmem provides the physical-memory port used by the boot-time
// discovery code. Firmware tables live at raw physical addresses; everything
// that reads them goes through a Memory implementation so the same parsing
// code runs against an in-memory image, a dump file, or /dev/mem.
package physmem

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a read or discard runs past the end of
	// the region a cursor was created over.
	ErrTruncated = errors.New("physmem: truncated read")

	// ErrIntegerOverflow is returned when address arithmetic would wrap the
	// 64-bit physical address space.
	ErrIntegerOverflow = errors.New("physmem: physical address overflow")
)

// PhysAddr is a 64-bit physical address. Arithmetic on it is explicitly
// overflow-checked; firmware-supplied values can sit near the top of the
// address space.
type PhysAddr uint64

// Add returns a+n, or ErrIntegerOverflow if the sum wraps.
func (a PhysAddr) Add(n uint64) (PhysAddr, error) {
	sum := uint64(a) + n
	if sum < uint64(a) {
		return 0, fmt.Errorf("%#x + %#x: %w", uint64(a), n, ErrIntegerOverflow)
	}
	return PhysAddr(sum), nil
}

// Memory is the physical-memory port. Offsets are physical addresses.
// Implementations must fill p completely or return an error.
type Memory interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Image is a Memory backed by a host byte slice standing in for physical
// memory starting at Base. It is the implementation used by tests and the
// firmware image tooling.
type Image struct {
	Base PhysAddr
	Data []byte
}

// NewImage returns a zeroed image of size bytes based at base.
func NewImage(base PhysAddr, size int) *Image {
	return &Image{Base: base, Data: make([]byte, size)}
}

func (m *Image) translate(off int64, n int) (int, error) {
	// Bounds math stays in int64: off is firmware-supplied and can sit
	// near 2^63, where idx+n would wrap.
	idx := off - int64(m.Base)
	if idx < 0 || idx > int64(len(m.Data)-n) {
		return 0, fmt.Errorf("physmem: %#x+%d outside image [%#x, %#x)", off, n, m.Base, int64(m.Base)+int64(len(m.Data)))
	}
	return int(idx), nil
}

func (m *Image) ReadAt(p []byte, off int64) (int, error) {
	idx, err := m.translate(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, m.Data[idx:]), nil
}

func (m *Image) WriteAt(p []byte, off int64) (int, error) {
	idx, err := m.translate(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(m.Data[idx:], p), nil
}
