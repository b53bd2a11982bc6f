package alloc

import (
	"sync"

	"github.com/nmxmxh/go-segalloc/internal/diag"
)

// state is the allocator's process-wide mutable state: the eight-
// entry free-list head table and the set of live arena mappings. By
// design, the allocator performs no synchronization of its own — the
// mutex below protects only the bookkeeping slice of retained mappings
// against concurrent *test* runs; it is not on any hot path and
// callers must still serialize Allocate/Free themselves.
type state struct {
	freeList [numBuckets]address

	retainedMu sync.Mutex
	retained   [][]byte

	everAllocated bool
}

var globalState = &state{}

var log = diag.New("alloc")

func (s *state) retain(data []byte) {
	s.retainedMu.Lock()
	s.retained = append(s.retained, data)
	s.retainedMu.Unlock()
}

func fatalOOM(err error) {
	log.Fatal("out of memory: OS mapping failed", diag.Err(err))
}

func fatalInvalidFree(reason string) {
	log.Fatal("EINVAL: invalid free", diag.String("reason", reason))
}
