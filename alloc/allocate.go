package alloc

import "unsafe"

// Allocate returns a zero-filled, 8-byte-aligned, contiguous region of
// at least n bytes, or nil if n is zero or exceeds the maximum
// allocation size. On OS mapping failure it terminates the process
// with an out-of-memory diagnostic.
func Allocate(n int) unsafe.Pointer {
	if n <= 0 || n > maxAllocPayload {
		return nil
	}

	req := uint64(roundUp(n+2*meta, alignment))
	if req < minFreeBlock {
		req = minFreeBlock
	}

	idx := sizeClass(req)
	s := globalState

	if s.freeList[idx] == 0 {
		blk, err := newArena(arenaMultipleForEnsure(req))
		if err != nil {
			fatalOOM(err)
		}
		s.listPrepend(idx, blk)
		s.everAllocated = true
	}

	node := address(0)
	for cur := s.freeList[idx]; cur != 0; cur = nextOf(cur) {
		if sizeOf(readTag(cur)) >= req {
			node = cur
			break
		}
	}

	if node == 0 {
		blk, err := newArena(arenaMultipleMinimal(req))
		if err != nil {
			fatalOOM(err)
		}
		s.listPrepend(idx, blk)
		node = blk
	}

	size := sizeOf(readTag(node))

	if size >= req+uint64(minFreeBlock)+uint64(minAllocPayload) {
		s.splitAndTake(idx, node, size, req)
	} else {
		s.listUnlink(idx, node)
		if s.freeList[idx] == 0 {
			s.refillBucket(idx)
		}
	}

	writeTag(node, req|1)
	writeTag(rightFooter(node, req), req|1)
	zeroRange(node+address(meta), req-2*uint64(meta))

	s.everAllocated = true
	return payloadPointer(node)
}

// splitAndTake carves req bytes off the front of node (sized size) and
// reinstalls the remainder in node's former list slot, preserving the
// invariant that the bucket is never left shorter than it was.
func (s *state) splitAndTake(idx int, node address, size, req uint64) {
	remainder := node + address(req)
	remainderSize := size - req
	writeTag(remainder, remainderSize)
	writeTag(rightFooter(remainder, remainderSize), remainderSize)
	s.listReplace(idx, node, remainder)
}

// refillBucket keeps a free list from ever being left empty after a
// full (non-split) take empties it out.
// Bucket 7 is refilled with two arenas' worth by policy, since it
// absorbs every size from 8192 bytes up.
func (s *state) refillBucket(idx int) {
	m := 1
	if idx == numBuckets-1 {
		m = 2
	}
	blk, err := newArena(m)
	if err != nil {
		fatalOOM(err)
	}
	s.listPrepend(idx, blk)
}
