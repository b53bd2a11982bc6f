package alloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapAnon requests a zero-filled, page-aligned region of the given
// byte length from the OS's anonymous virtual-memory mapper. This is
// the one external collaborator this package depends on;
// its contract is assumed, not reimplemented: the kernel guarantees
// the returned pages are zero-filled.
func mapAnon(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous region of %d bytes: %w", size, err)
	}
	return data, nil
}

// newArena requests m*arenaSize bytes from the OS, installs left and
// right fence posts, and returns the header address of the single
// free block covering the interior. The backing []byte is retained in
// the package-level mapping registry for the process lifetime: arenas
// are never unmapped: arenas are created on demand and destroyed
// never.
func newArena(m int) (address, error) {
	if m < 1 {
		m = 1
	}
	total := m * arenaSize
	if total < minFreeBlock+2*meta {
		return 0, fmt.Errorf("arena multiple %d too small for a minimum block", m)
	}

	data, err := mapAnon(total)
	if err != nil {
		return 0, err
	}

	base := address(uintptr(unsafe.Pointer(&data[0])))
	globalState.retain(data)

	writeTag(base, fenceMagic)
	rightFence := base + address(total) - address(meta)
	writeTag(rightFence, fenceMagic)

	interior := base + address(meta)
	interiorSize := uint64(total) - 2*uint64(meta)
	writeTag(interior, interiorSize)
	writeTag(rightFooter(interior, interiorSize), interiorSize)
	writeLinkAt(interior, 0, 0)

	return interior, nil
}

// arenaMultipleForEnsure is the number of arenaSize-sized chunks
// mapped when a bucket is found empty: the whole chunks in req, plus
// one. A request under arenaSize therefore gets a single arena. When
// req lies within two boundary tags of a chunk multiple, the result
// cannot hold req and its fence posts; Allocate's first-fit miss then
// maps an arena of arenaMultipleMinimal chunks.
func arenaMultipleForEnsure(req uint64) int {
	return int(req/arenaSize) + 1
}

// arenaMultipleMinimal is the smallest number of arenaSize-sized
// chunks that can hold a block of size req plus its two fence posts,
// used when growing on a first-fit miss.
func arenaMultipleMinimal(req uint64) int {
	need := req + 2*uint64(meta)
	m := ceilDiv(need, arenaSize)
	if m < 1 {
		m = 1
	}
	return m
}

func ceilDiv(n uint64, d int) int {
	return int((n + uint64(d) - 1) / uint64(d))
}
