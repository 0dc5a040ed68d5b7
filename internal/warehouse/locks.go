package warehouse

import (
	"hash/fnv"
	"sync"
)

const orderLockStripes = 64

// stripedLocks serialises work per key with a fixed number of mutexes.
// Distinct keys may share a stripe; that only costs throughput.
type stripedLocks struct {
	stripes [orderLockStripes]sync.Mutex
}

func (l *stripedLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%orderLockStripes]
	m.Lock()
	return m.Unlock
}
