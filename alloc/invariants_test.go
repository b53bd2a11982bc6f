package alloc

import (
	"testing"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"
)

// walkedBlock is one block discovered while walking an arena from its
// left fence post, used only by tests.
type walkedBlock struct {
	header address
	size   uint64
	alloc  bool
}

// walkArena walks an arena from its left fence post to its right one,
// returning every block encountered along the way.
func walkArena(t *testing.T, region []byte) []walkedBlock {
	t.Helper()
	base := address(uintptr(unsafe.Pointer(&region[0])))
	total := uint64(len(region))

	require.Equal(t, fenceMagic, readTag(base), "left fence post corrupted")
	require.Equal(t, fenceMagic, readTag(base+address(total)-address(meta)), "right fence post corrupted")

	var blocks []walkedBlock
	cur := base + address(meta)
	end := base + address(total) - address(meta)
	for cur != end {
		tag := readTag(cur)
		size := sizeOf(tag)
		require.Equal(t, tag, readTag(rightFooter(cur, size)), "header/footer mismatch at %#x", uintptr(cur))
		blocks = append(blocks, walkedBlock{header: cur, size: size, alloc: isAlloc(tag)})
		cur += address(size)
		require.LessOrEqual(t, uintptr(cur), uintptr(end), "block overruns arena interior")
	}
	return blocks
}

// freeSlots is a per-arena bitmap of which alignment-sized slots the
// boundary-tag walk found to be the start of a free block. Free-list
// membership is then checked against it: every address reachable
// through a bucket's linked list must correspond to exactly one free
// block the walk actually found, and no address may be claimed by two
// buckets: every free block must be linked into exactly one free
// list.
type freeSlots struct {
	base address
	bits *bitset.BitSet
}

func (f *freeSlots) contains(addr address) bool {
	if addr < f.base {
		return false
	}
	off := (uint64(addr-f.base)) / alignment
	return off < uint64(f.bits.Len()) && f.bits.Test(uint(off))
}

// claim marks addr as consumed by a free list and reports whether it
// had not already been claimed by a different bucket.
func (f *freeSlots) claim(addr address) bool {
	off := uint((uint64(addr - f.base)) / alignment)
	if !f.bits.Test(off) {
		return false
	}
	f.bits.Clear(off)
	return true
}

// checkInvariants re-verifies every structural and free-list
// invariant across every arena the allocator has ever mapped.
func checkInvariants(t *testing.T) {
	t.Helper()
	s := globalState

	s.retainedMu.Lock()
	regions := make([][]byte, len(s.retained))
	copy(regions, s.retained)
	s.retainedMu.Unlock()

	var slots []*freeSlots

	for _, region := range regions {
		blocks := walkArena(t, region)
		base := address(uintptr(unsafe.Pointer(&region[0])))
		fs := &freeSlots{base: base, bits: bitset.New(uint(len(region) / alignment))}

		prevAlloc := true
		for _, b := range blocks {
			if !b.alloc {
				require.GreaterOrEqual(t, b.size, uint64(minFreeBlock), "free block below minimum size")
				require.True(t, prevAlloc, "two adjacent free blocks at %#x", uintptr(b.header))
				fs.bits.Set(uint(uint64(b.header-base) / alignment))
			}
			prevAlloc = b.alloc
		}
		slots = append(slots, fs)
	}

	slotsFor := func(addr address) *freeSlots {
		for _, fs := range slots {
			if fs.contains(addr) {
				return fs
			}
		}
		return nil
	}

	for idx := 0; idx < numBuckets; idx++ {
		count := 0
		for cur := s.freeList[idx]; cur != 0; cur = nextOf(cur) {
			count++
			require.LessOrEqual(t, count, 1_000_000, "cycle suspected in bucket %d free list", idx)

			tag := readTag(cur)
			require.False(t, isAlloc(tag), "allocated block linked into free list bucket %d", idx)
			require.Equal(t, idx, sizeClass(sizeOf(tag)), "block in bucket %d maps to a different size class", idx)

			fs := slotsFor(cur)
			require.NotNil(t, fs, "free-list node at %#x is not a block the boundary-tag walk found", uintptr(cur))
			require.True(t, fs.claim(cur), "block at %#x is linked into more than one free list", uintptr(cur))

			prev, next := readLinkAt(cur)
			if next != 0 {
				nPrev, _ := readLinkAt(next)
				require.Equal(t, cur, nPrev, "next.prev != node in bucket %d", idx)
			}
			if prev != 0 {
				_, pNext := readLinkAt(prev)
				require.Equal(t, cur, pNext, "prev.next != node in bucket %d", idx)
			} else {
				require.Equal(t, cur, s.freeList[idx], "walking prev from a free block did not reach a null-rooted head")
			}
		}
	}

	for _, fs := range slots {
		require.Equal(t, uint(0), fs.bits.Count(), "a free block discovered by the arena walk is linked into no free list")
	}
}

// totalFreeBytes sums the size of every free block reachable through
// the free-list table, used for the round-trip accounting property.
func totalFreeBytes(t *testing.T) uint64 {
	t.Helper()
	s := globalState
	var total uint64
	for idx := 0; idx < numBuckets; idx++ {
		for cur := s.freeList[idx]; cur != 0; cur = nextOf(cur) {
			total += sizeOf(readTag(cur))
		}
	}
	return total
}
