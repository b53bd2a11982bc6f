package alloc

import "unsafe"

// address is a real memory address inside one of the mapped arenas.
// Blocks are modeled as arena-indexed nodes addressed by raw offset
// into process memory rather than as owned Go pointers: the safe/
// unsafe boundary is drawn around this package rather than leaking
// raw addresses to callers.
type address uintptr

func (a address) ptr() unsafe.Pointer { return unsafe.Pointer(a) }

// readWord and writeWord are the only primitives that touch memory
// directly; every other accessor in this file is a named view over
// one of the two.
func readWord(a address) uint64 {
	return *(*uint64)(a.ptr())
}

func writeWord(a address, v uint64) {
	*(*uint64)(a.ptr()) = v
}

func readTag(a address) uint64     { return readWord(a) }
func writeTag(a address, v uint64) { writeWord(a, v) }

func sizeOf(tag uint64) uint64 { return tag &^ 1 }

func isAlloc(tag uint64) bool { return tag&1 != 0 }

// rightFooter is the address of block's footer, given its size.
func rightFooter(block address, size uint64) address {
	return block + address(size) - address(meta)
}

// linkCell is the address of the prev/next cell inside a free block,
// given its size. It lives just before the footer.
func linkCell(block address, size uint64) address {
	return block + address(size) - address(meta) - address(link)
}

// leftNeighborFooter is the footer belonging to the block physically
// to the left of block, regardless of that neighbor's allocated state.
func leftNeighborFooter(block address) address {
	return block - address(meta)
}

// rightNeighborHeader is the header belonging to the block physically
// to the right of block, given block's own size.
func rightNeighborHeader(block address, size uint64) address {
	return block + address(size)
}

// readLinkAt reads the prev/next pair of a free block, deriving the
// link cell's location from the block's own current size.
func readLinkAt(block address) (prev, next address) {
	lc := linkCell(block, sizeOf(readTag(block)))
	return address(readWord(lc)), address(readWord(lc + address(wordSize)))
}

// writeLinkAt writes the prev/next pair of a free block.
func writeLinkAt(block address, prev, next address) {
	lc := linkCell(block, sizeOf(readTag(block)))
	writeWord(lc, uint64(prev))
	writeWord(lc+address(wordSize), uint64(next))
}

// payloadPointer converts a header address into the pointer handed to
// the caller: the first byte past the header.
func payloadPointer(header address) unsafe.Pointer {
	return (header + address(meta)).ptr()
}

// headerFromPayload converts a caller pointer back into its header
// address.
func headerFromPayload(p unsafe.Pointer) address {
	return address(uintptr(p)) - address(meta)
}

func zeroRange(start address, n uint64) {
	if n == 0 {
		return
	}
	b := unsafe.Slice((*byte)(start.ptr()), n)
	for i := range b {
		b[i] = 0
	}
}
