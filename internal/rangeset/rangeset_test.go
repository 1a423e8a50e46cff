package rangeset

import (
	"errors"
	"testing"
)

// checkInvariant fails the test if any two entries overlap or touch.
func checkInvariant(t *testing.T, s *Set) {
	t.Helper()
	entries := s.Entries()
	for i := 0; i < len(entries); i++ {
		if entries[i].Start > entries[i].End {
			t.Fatalf("entry %d inverted: [%#x, %#x]", i, entries[i].Start, entries[i].End)
		}
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if _, ok := overlap(
				Range{Start: a.Start, End: satAdd1(a.End)},
				Range{Start: b.Start, End: satAdd1(b.End)},
			); ok {
				t.Fatalf("entries %d and %d overlap or touch: [%#x, %#x] vs [%#x, %#x]",
					i, j, a.Start, a.End, b.Start, b.End)
			}
		}
	}
}

func mustInsert(t *testing.T, s *Set, start, end uint64) {
	t.Helper()
	if err := s.Insert(Range{Start: start, End: end}); err != nil {
		t.Fatalf("insert [%#x, %#x]: %v", start, end, err)
	}
	checkInvariant(t, s)
}

func TestInsertMergesTouchingRanges(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 9)
	mustInsert(t, &s, 10, 19)

	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d: %v", s.Len(), s.Entries())
	}
	if got := s.Entries()[0]; got != (Range{Start: 0, End: 19}) {
		t.Fatalf("expected [0, 19], got [%#x, %#x]", got.Start, got.End)
	}
}

func TestInsertMergesOverlapChain(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 9)
	mustInsert(t, &s, 20, 29)
	mustInsert(t, &s, 40, 49)
	// Bridges all three.
	mustInsert(t, &s, 5, 45)

	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d: %v", s.Len(), s.Entries())
	}
	if got := s.Entries()[0]; got != (Range{Start: 0, End: 49}) {
		t.Fatalf("expected [0, 49], got [%#x, %#x]", got.Start, got.End)
	}
}

func TestInsertInvalidRange(t *testing.T) {
	var s Set
	if err := s.Insert(Range{Start: 10, End: 5}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSum(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 99)
	mustInsert(t, &s, 200, 299)

	total, ok := s.Sum()
	if !ok {
		t.Fatalf("sum overflowed")
	}
	if total != 200 {
		t.Fatalf("expected sum 200, got %d", total)
	}
}

func TestSumOverflow(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, ^uint64(0))

	if _, ok := s.Sum(); ok {
		t.Fatalf("expected overflow for full address space")
	}
}

func TestRemoveTrimsAndSplits(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 99)

	// Hole in the middle forces a split.
	if err := s.Remove(Range{Start: 40, End: 59}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	checkInvariant(t, &s)
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries after split, got %d: %v", s.Len(), s.Entries())
	}
	total, _ := s.Sum()
	if total != 80 {
		t.Fatalf("expected 80 covered, got %d", total)
	}

	// Trim the low end of the tail piece and the high end of the head.
	if err := s.Remove(Range{Start: 90, End: 200}); err != nil {
		t.Fatalf("remove high: %v", err)
	}
	if err := s.Remove(Range{Start: 0, End: 9}); err != nil {
		t.Fatalf("remove low: %v", err)
	}
	checkInvariant(t, &s)
	total, _ = s.Sum()
	if total != 60 {
		t.Fatalf("expected 60 covered, got %d", total)
	}

	// Removing everything empties the set.
	if err := s.Remove(Range{Start: 0, End: ^uint64(0)}); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty set, got %v", s.Entries())
	}
}

func TestRemoveInvalidRange(t *testing.T) {
	var s Set
	if err := s.Remove(Range{Start: 2, End: 1}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSplitRequiresFreeSlot(t *testing.T) {
	var s Set
	// Fill the table with disjoint, non-adjacent ranges.
	for i := 0; i < Capacity; i++ {
		mustInsert(t, &s, uint64(i)*10, uint64(i)*10+5)
	}
	if s.Len() != Capacity {
		t.Fatalf("expected full table, got %d", s.Len())
	}

	// Splitting any entry needs a slot that does not exist.
	if err := s.Remove(Range{Start: 2, End: 3}); !errors.Is(err, ErrOutOfEntries) {
		t.Fatalf("expected ErrOutOfEntries, got %v", err)
	}

	// A fresh insert into the full table fails too.
	if err := s.Insert(Range{Start: 1 << 40, End: 1<<40 + 1}); !errors.Is(err, ErrOutOfEntries) {
		t.Fatalf("expected ErrOutOfEntries, got %v", err)
	}
}

func TestDeleteSwapsWithLast(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 5)
	mustInsert(t, &s, 10, 15)
	mustInsert(t, &s, 20, 25)

	if err := s.Delete(0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	// The last entry moved into slot 0.
	if got := s.Entries()[0]; got != (Range{Start: 20, End: 25}) {
		t.Fatalf("expected [20, 25] in slot 0, got [%#x, %#x]", got.Start, got.End)
	}

	if err := s.Delete(5); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestSubtract(t *testing.T) {
	var s, other Set
	mustInsert(t, &s, 0, 99)
	mustInsert(t, &other, 10, 19)
	mustInsert(t, &other, 50, 59)

	if err := s.Subtract(&other); err != nil {
		t.Fatalf("subtract: %v", err)
	}
	checkInvariant(t, &s)
	total, _ := s.Sum()
	if total != 80 {
		t.Fatalf("expected 80 covered, got %d", total)
	}
}

func TestAllocateExact(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 15)

	base, err := s.Allocate(16, 16)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected base 0, got %#x", base)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty set, got %v", s.Entries())
	}

	if _, err := s.Allocate(1, 1); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestAllocateAlignmentPadding(t *testing.T) {
	var s Set
	mustInsert(t, &s, 1, 100)

	base, err := s.Allocate(16, 16)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base != 16 {
		t.Fatalf("expected aligned base 16, got %#x", base)
	}
	// The padding byte at address 1..15 is consumed with the block.
	checkInvariant(t, &s)
	total, _ := s.Sum()
	if total != 100-31 {
		t.Fatalf("expected %d covered, got %d", 100-31, total)
	}
}

func TestAllocateBestFit(t *testing.T) {
	var s Set
	// The first entry needs 15 bytes of front padding for 16-byte
	// alignment; the second is already aligned and makes the smaller
	// block, so it must win.
	mustInsert(t, &s, 1, 1024)
	mustInsert(t, &s, 4096, 4096+63)

	base, err := s.Allocate(64, 16)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base != 4096 {
		t.Fatalf("expected best-fit base 4096, got %#x", base)
	}
}

func TestAllocateFirstFoundWinsTies(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 1023)
	mustInsert(t, &s, 4096, 4096+1023)

	base, err := s.Allocate(64, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected first-found base 0, got %#x", base)
	}
}

func TestAllocateArgumentValidation(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 100)

	if _, err := s.Allocate(1, 3); !errors.Is(err, ErrInvalidAlignment) {
		t.Fatalf("expected ErrInvalidAlignment, got %v", err)
	}
	if _, err := s.Allocate(1, 0); !errors.Is(err, ErrInvalidAlignment) {
		t.Fatalf("expected ErrInvalidAlignment for zero, got %v", err)
	}
	if _, err := s.Allocate(0, 1); !errors.Is(err, ErrZeroSizeAllocation) {
		t.Fatalf("expected ErrZeroSizeAllocation, got %v", err)
	}
}

func TestAllocatePreferTakesPreferredRegion(t *testing.T) {
	var s Set
	// A huge free entry and a small one. The preferred region sits strictly
	// inside the huge entry, so locality must beat the tighter fit.
	mustInsert(t, &s, 0, 1<<20)
	mustInsert(t, &s, 1<<30, 1<<30+255)

	var preferred Set
	mustInsert(t, &preferred, 0x1000, 0x1fff)

	base, err := s.AllocatePrefer(256, 16, &preferred)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base < 0x1000 || base+255 > 0x1fff {
		t.Fatalf("allocation [%#x, %#x] outside preferred region", base, base+255)
	}
	checkInvariant(t, &s)
}

func TestAllocatePreferFallsBackToBestFit(t *testing.T) {
	var s Set
	// The first entry is misaligned and needs front padding; the second
	// makes the smaller block.
	mustInsert(t, &s, 1, 1<<20)
	mustInsert(t, &s, 1<<30, 1<<30+255)

	// Preferred region has no overlap with any free entry.
	var preferred Set
	mustInsert(t, &preferred, 1<<40, 1<<40+0xfff)

	base, err := s.AllocatePrefer(256, 16, &preferred)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base != 1<<30 {
		t.Fatalf("expected best-fit fallback at %#x, got %#x", uint64(1<<30), base)
	}
}

func TestAllocatePreferTooSmallOverlap(t *testing.T) {
	var s Set
	mustInsert(t, &s, 0, 1<<20)

	// Preferred overlap is too small for the allocation; fall back to the
	// entry itself.
	var preferred Set
	mustInsert(t, &preferred, 0x100, 0x10f)

	base, err := s.AllocatePrefer(256, 1, &preferred)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected fallback base 0, got %#x", base)
	}
}

func TestAllocateSkipsOverflowingEntries(t *testing.T) {
	var s Set
	top := ^uint64(0)
	mustInsert(t, &s, top-15, top)

	// Size fits but base+size-1 overflows for any larger request.
	if _, err := s.Allocate(32, 1); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	base, err := s.Allocate(16, 1)
	if err != nil {
		t.Fatalf("allocate at top of address space: %v", err)
	}
	if base != top-15 {
		t.Fatalf("expected base %#x, got %#x", top-15, base)
	}
}

func TestInsertRemoveSequencesKeepInvariant(t *testing.T) {
	var s Set
	steps := []struct {
		remove bool
		r      Range
	}{
		{false, Range{0, 0xffff}},
		{false, Range{0x20000, 0x2ffff}},
		{true, Range{0x8000, 0x80ff}},
		{false, Range{0x10000, 0x1ffff}},
		{true, Range{0x0, 0xfff}},
		{false, Range{0x8000, 0x80ff}},
		{true, Range{0x25000, 0x25fff}},
	}
	for i, step := range steps {
		var err error
		if step.remove {
			err = s.Remove(step.r)
		} else {
			err = s.Insert(step.r)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		checkInvariant(t, &s)
	}
}
