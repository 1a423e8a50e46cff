// Package rangeset tracks physical memory as a fixed-capacity set of
// disjoint inclusive ranges. It is the allocator the boot stage runs on:
// no heap exists yet on the machine this models, so the set lives in a
// fixed array and fails explicitly when it runs out of entries.
package rangeset

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIndex       = errors.New("rangeset: index out of bounds")
	ErrInvalidRange       = errors.New("rangeset: range start exceeds end")
	ErrOutOfEntries       = errors.New("rangeset: no free entries")
	ErrOutOfMemory        = errors.New("rangeset: allocation cannot be satisfied")
	ErrZeroSizeAllocation = errors.New("rangeset: zero size allocation")
	ErrInvalidAlignment   = errors.New("rangeset: alignment not a nonzero power of two")
)

// Capacity is the fixed number of ranges a set can hold.
const Capacity = 256

// Range is an inclusive [Start, End] interval of physical addresses.
type Range struct {
	Start uint64
	End   uint64
}

// overlap returns the intersection of a and b, if any.
func overlap(a, b Range) (Range, bool) {
	if a.Start > a.End {
		a.Start, a.End = a.End, a.Start
	}
	if b.Start > b.End {
		b.Start, b.End = b.End, b.Start
	}
	if a.Start <= b.End && b.Start <= a.End {
		return Range{Start: max(a.Start, b.Start), End: min(a.End, b.End)}, true
	}
	return Range{}, false
}

// contains reports whether a lies entirely within b.
func contains(a, b Range) bool {
	return a.Start >= b.Start && a.End <= b.End
}

func satAdd1(v uint64) uint64 {
	if v == ^uint64(0) {
		return v
	}
	return v + 1
}

// Set is a fixed-capacity collection of pairwise disjoint, non-adjacent
// ranges. Touching ranges are always merged on insert. Entry order is not
// meaningful and indices are not stable across mutation: Delete swaps the
// victim with the last in-use slot. Set is a plain value; copying it copies
// the whole table.
type Set struct {
	ranges [Capacity]Range
	inUse  int
}

// Entries returns the in-use ranges. The slice aliases the set's backing
// array and is invalidated by any mutation.
func (s *Set) Entries() []Range {
	return s.ranges[:s.inUse]
}

// Len returns the number of in-use ranges.
func (s *Set) Len() int { return s.inUse }

// Delete removes the entry at idx by swapping it with the last in-use slot.
func (s *Set) Delete(idx int) error {
	if idx < 0 || idx >= s.inUse {
		return fmt.Errorf("delete %d of %d: %w", idx, s.inUse, ErrInvalidIndex)
	}
	s.ranges[idx], s.ranges[s.inUse-1] = s.ranges[s.inUse-1], s.ranges[idx]
	s.inUse--
	return nil
}

// Insert adds r to the set, merging it with any entry it overlaps or
// touches. Merging uses a saturating +1 on both ends so [0,9] and [10,19]
// combine into [0,19].
func (s *Set) Insert(r Range) error {
	if r.End < r.Start {
		return fmt.Errorf("[%#x, %#x]: %w", r.Start, r.End, ErrInvalidRange)
	}

	// Keep folding entries into the candidate until nothing overlaps or
	// touches it, then append the result.
merge:
	for {
		for ii := 0; ii < s.inUse; ii++ {
			ent := s.ranges[ii]
			if _, ok := overlap(
				Range{Start: r.Start, End: satAdd1(r.End)},
				Range{Start: ent.Start, End: satAdd1(ent.End)},
			); !ok {
				continue
			}
			r.Start = min(r.Start, ent.Start)
			r.End = max(r.End, ent.End)
			if err := s.Delete(ii); err != nil {
				return err
			}
			continue merge
		}
		break
	}

	if s.inUse >= Capacity {
		// Unreachable when the merge loop freed a slot; only a fresh
		// insert into a full table lands here.
		return ErrOutOfEntries
	}
	s.ranges[s.inUse] = r
	s.inUse++
	return nil
}

// Remove subtracts r from the set. Entries fully covered by r are deleted,
// partially covered entries are trimmed, and an entry strictly containing r
// is split in two. A split needs a free slot and fails with ErrOutOfEntries
// before any structural change if the table is full.
func (s *Set) Remove(r Range) error {
	if r.End < r.Start {
		return fmt.Errorf("[%#x, %#x]: %w", r.Start, r.End, ErrInvalidRange)
	}

subtract:
	for {
		for ii := 0; ii < s.inUse; ii++ {
			ent := s.ranges[ii]
			if _, ok := overlap(r, ent); !ok {
				continue
			}

			if contains(ent, r) {
				if err := s.Delete(ii); err != nil {
					return err
				}
				continue subtract
			}

			if r.Start <= ent.Start {
				// Overlap on the low end: bump the entry start past the
				// removal.
				s.ranges[ii].Start = satAdd1(r.End)
			} else if r.End >= ent.End {
				// Overlap on the high end: pull the entry end back before
				// the removal.
				s.ranges[ii].End = r.Start - 1
			} else {
				// Removal strictly inside the entry: split into head and
				// tail pieces.
				if s.inUse >= Capacity {
					return ErrOutOfEntries
				}
				s.ranges[s.inUse] = Range{Start: ent.Start, End: r.Start - 1}
				s.inUse++
				s.ranges[ii].Start = satAdd1(r.End)
				continue subtract
			}
		}
		break
	}
	return nil
}

// Subtract removes every entry of other from s.
func (s *Set) Subtract(other *Set) error {
	for _, ent := range other.Entries() {
		if err := s.Remove(ent); err != nil {
			return err
		}
	}
	return nil
}

// Sum returns the total number of addresses covered by the set, or false if
// the total overflows (a set covering the entire 2^64 space does).
// Disjointness guarantees no double counting.
func (s *Set) Sum() (uint64, bool) {
	var total uint64
	for _, ent := range s.Entries() {
		size := ent.End - ent.Start + 1
		if size == 0 {
			// ent covers the full address space.
			return 0, false
		}
		if total+size < total {
			return 0, false
		}
		total += size
	}
	return total, true
}

// Allocate reserves size bytes aligned to align from anywhere in the set
// and returns the base address of the reservation.
func (s *Set) Allocate(size, align uint64) (uint64, error) {
	return s.AllocatePrefer(size, align, nil)
}

// AllocatePrefer reserves size bytes aligned to align, preferring to place
// the allocation inside one of the preferred ranges. The first aligned fit
// inside a preferred overlap wins immediately; locality beats fragmentation.
// With no preferred fit anywhere, the best-fit entry (smallest end-base)
// wins, first found breaking ties. The chosen block is removed from the set.
func (s *Set) AllocatePrefer(size, align uint64, preferred *Set) (uint64, error) {
	if size == 0 {
		return 0, ErrZeroSizeAllocation
	}
	if align == 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("align %#x: %w", align, ErrInvalidAlignment)
	}
	alignMask := align - 1

	type candidate struct {
		base uint64 // inclusive start of block to remove
		end  uint64 // inclusive end of block to remove
		ptr  uint64 // aligned address handed to the caller
	}
	var best *candidate

search:
	for _, ent := range s.Entries() {
		// Front padding needed to align the entry start.
		alignFix := (align - (ent.Start & alignMask)) & alignMask

		base := ent.Start
		end := base + (size - 1)
		if end < base {
			continue
		}
		if end+alignFix < end {
			continue
		}
		end += alignFix
		if end > ent.End {
			continue
		}

		if preferred != nil {
			for _, region := range preferred.Entries() {
				ov, ok := overlap(ent, region)
				if !ok {
					continue
				}
				alignedStart := (ov.Start + alignMask) &^ alignMask
				if alignedStart >= ov.Start && alignedStart <= ov.End &&
					ov.End-alignedStart >= size-1 {
					best = &candidate{
						base: alignedStart,
						end:  alignedStart + (size - 1),
						ptr:  alignedStart,
					}
					break search
				}
			}
		}

		if best == nil || best.end-best.base > end-base {
			best = &candidate{base: base, end: end, ptr: base + alignFix}
		}
	}

	if best == nil {
		return 0, ErrOutOfMemory
	}
	if err := s.Remove(Range{Start: best.base, End: best.end}); err != nil {
		return 0, err
	}
	return best.ptr, nil
}
