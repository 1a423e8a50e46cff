package physmem

import (
	"encoding/binary"
	"fmt"
)

// Cursor is a bounds-checked sequential reader over a physical address range.
// The caller derives the initial length from a validated table header; the
// cursor enforces nothing beyond it. All multi-byte reads are little-endian
// and assembled from individual bytes, so unaligned firmware tables (observed
// under some virtualized firmware) read correctly.
type Cursor struct {
	mem       Memory
	addr      PhysAddr
	remaining uint64
}

// NewCursor returns a cursor over [addr, addr+size).
func NewCursor(mem Memory, addr PhysAddr, size uint64) *Cursor {
	return &Cursor{mem: mem, addr: addr, remaining: size}
}

// Len returns the number of unconsumed bytes.
func (c *Cursor) Len() uint64 { return c.remaining }

// Addr returns the physical address of the next unconsumed byte.
func (c *Cursor) Addr() PhysAddr { return c.addr }

// Discard advances the cursor n bytes without reading them.
func (c *Cursor) Discard(n uint64) error {
	if n > c.remaining {
		return fmt.Errorf("discard %d of %d: %w", n, c.remaining, ErrTruncated)
	}
	addr, err := c.addr.Add(n)
	if err != nil {
		return err
	}
	c.addr = addr
	c.remaining -= n
	return nil
}

// consume fills p from the cursor position and advances past it.
func (c *Cursor) consume(p []byte) error {
	n := uint64(len(p))
	if n > c.remaining {
		return fmt.Errorf("consume %d of %d: %w", n, c.remaining, ErrTruncated)
	}
	if _, err := c.mem.ReadAt(p, int64(c.addr)); err != nil {
		return err
	}
	addr, err := c.addr.Add(n)
	if err != nil {
		return err
	}
	c.addr = addr
	c.remaining -= n
	return nil
}

// Bytes consumes n bytes and returns them.
func (c *Cursor) Bytes(n uint64) ([]byte, error) {
	p := make([]byte, n)
	if err := c.consume(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Uint8 consumes one byte.
func (c *Cursor) Uint8() (uint8, error) {
	var p [1]byte
	if err := c.consume(p[:]); err != nil {
		return 0, err
	}
	return p[0], nil
}

// Uint16 consumes a little-endian 16-bit value.
func (c *Cursor) Uint16() (uint16, error) {
	var p [2]byte
	if err := c.consume(p[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p[:]), nil
}

// Uint32 consumes a little-endian 32-bit value.
func (c *Cursor) Uint32() (uint32, error) {
	var p [4]byte
	if err := c.consume(p[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p[:]), nil
}

// Uint64 consumes a little-endian 64-bit value.
func (c *Cursor) Uint64() (uint64, error) {
	var p [8]byte
	if err := c.consume(p[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p[:]), nil
}
