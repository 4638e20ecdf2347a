// pkg/vfs/lock.go

package vfs

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lockSet stripes the chunk read/modify/write cycle over a fixed number of
// mutexes. With one shard every chunk of every file shares a single lock.
type lockSet struct {
	shards []sync.Mutex
}

func newLockSet(n int) *lockSet {
	if n < 1 {
		n = 1
	}
	return &lockSet{shards: make([]sync.Mutex, n)}
}

func (l *lockSet) get(id string, index int64) *sync.Mutex {
	if len(l.shards) == 1 {
		return &l.shards[0]
	}
	d := xxhash.New()
	_, _ = d.WriteString(id)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(index))
	_, _ = d.Write(b[:])
	return &l.shards[d.Sum64()%uint64(len(l.shards))]
}

func (l *lockSet) lockAll() {
	for i := range l.shards {
		l.shards[i].Lock()
	}
}

func (l *lockSet) unlockAll() {
	for i := len(l.shards) - 1; i >= 0; i-- {
		l.shards[i].Unlock()
	}
}
