package alloc

import "unsafe"

// Free releases a region previously returned by Allocate back to the
// allocator for reuse. It terminates the process with an EINVAL
// diagnostic if p is nil, if no allocation has ever been performed, or
// if the block at p does not have its allocated bit set. Passing a
// pointer not previously returned by Allocate is undefined behavior
// and is not detected.
func Free(p unsafe.Pointer) {
	if p == nil {
		fatalInvalidFree("null pointer")
	}

	s := globalState
	if !s.everAllocated {
		fatalInvalidFree("no allocations have been performed")
	}

	header := headerFromPayload(p)
	tag := readTag(header)
	if !isAlloc(tag) {
		fatalInvalidFree("block is not marked allocated")
	}
	size := sizeOf(tag)

	writeTag(header, size)
	writeTag(rightFooter(header, size), size)

	root := header
	merged := size

	leftTag := readTag(leftNeighborFooter(header))
	leftFree := leftTag != fenceMagic && !isAlloc(leftTag)
	var leftSize uint64
	if leftFree {
		leftSize = sizeOf(leftTag)
		root = header - address(leftSize)
		merged += leftSize
	}

	rightHeader := rightNeighborHeader(header, size)
	rightTag := readTag(rightHeader)
	rightFree := rightTag != fenceMagic && !isAlloc(rightTag)
	var rightSize uint64
	if rightFree {
		rightSize = sizeOf(rightTag)
		merged += rightSize
	}

	// Every merged block is re-bucketed by its final size before
	// reinsertion, rather than preserving either neighbor's list slot.
	// Unlinking whichever neighbors were free from the bucket they are
	// linked into and then inserting the single root fresh covers all
	// four cases uniformly: "neither neighbor free" does zero unlinks,
	// "one neighbor free" does one, "both" does two.
	//
	// A split remainder stays in the bucket it was split from, so a
	// free neighbor's bucket is not always the one its size maps to. A
	// neighbor that heads a list has its bucket found by head identity;
	// any other node is unlinked through its prev link alone.
	bucketOf := func(node address, size uint64) int {
		for i, head := range s.freeList {
			if head == node {
				return i
			}
		}
		return sizeClass(size)
	}
	if leftFree {
		s.listUnlink(bucketOf(root, leftSize), root)
	}
	if rightFree {
		s.listUnlink(bucketOf(rightHeader, rightSize), rightHeader)
	}

	writeTag(root, merged)
	writeTag(rightFooter(root, merged), merged)
	s.listPrepend(sizeClass(merged), root)
}
