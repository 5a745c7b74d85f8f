package dedup

import (
	"hash/fnv"
	"sync"
)

// stripedLocks maps keys onto a fixed set of mutexes. Unrelated keys rarely
// share a stripe, so writers only contend when they touch the same key.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = 1
	}
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLocks) lock(key string) (unlock func()) {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}

func (s *stripedLocks) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}
