//go:build linux

package physmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DevMem is a Memory backed by a mapping of /dev/mem, for inspecting live
// firmware tables from userspace. Requires root and a kernel without
// CONFIG_STRICT_DEVMEM restrictions over the mapped window.
type DevMem struct {
	f    *os.File
	base PhysAddr
	data []byte
}

// OpenDevMem maps [base, base+size) of /dev/mem read-only.
func OpenDevMem(base PhysAddr, size uint64) (*DevMem, error) {
	pageSize := uint64(unix.Getpagesize())
	if uint64(base)%pageSize != 0 {
		return nil, fmt.Errorf("physmem: base %#x not page aligned", uint64(base))
	}
	f, err := os.Open("/dev/mem")
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), int64(base), int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap /dev/mem at %#x: %w", uint64(base), err)
	}
	return &DevMem{f: f, base: base, data: data}, nil
}

func (m *DevMem) ReadAt(p []byte, off int64) (int, error) {
	idx := off - int64(m.base)
	if idx < 0 || idx > int64(len(m.data)-len(p)) {
		return 0, fmt.Errorf("physmem: %#x+%d outside /dev/mem window", off, len(p))
	}
	return copy(p, m.data[idx:]), nil
}

// Close unmaps the window and closes /dev/mem.
func (m *DevMem) Close() error {
	err := unix.Munmap(m.data)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.data = nil
	return err
}
