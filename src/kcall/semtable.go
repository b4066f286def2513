package kcall

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"sync2"
)

// semElem is one entry of a bucket chain, linked through an atomic
// pointer so Get can walk the chain without taking the bucket lock —
// writers (GetOrCreate/Del) still serialize on the bucket's mutex.
type semElem struct {
	key  int32
	sem  *sync2.Semaphore
	next atomic.Pointer[semElem]
}

type semBucket struct {
	mu    sync.Mutex
	first atomic.Pointer[semElem]
}

// semTable is the keyed semaphore table the semget/semop/semctl kcalls
// operate on: processes that agree on a key rendezvous on the same
// semaphore without either having created it first.
type semTable struct {
	buckets []semBucket
}

func newSemTable(nbuckets int) *semTable {
	return &semTable{buckets: make([]semBucket, nbuckets)}
}

func hashKey(key int32) uint32 {
	h := fnv.New32a()
	h.Write([]byte{byte(key), byte(key >> 8), byte(key >> 16), byte(key >> 24)})
	return h.Sum32()
}

func (t *semTable) bucket(key int32) *semBucket {
	return &t.buckets[hashKey(key)%uint32(len(t.buckets))]
}

// Get returns the semaphore registered under key, without taking any
// lock beyond the atomic pointer loads used to walk the chain.
func (t *semTable) Get(key int32) (*sync2.Semaphore, bool) {
	b := t.bucket(key)
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			return e.sem, true
		}
	}
	return nil, false
}

// GetOrCreate returns the existing semaphore for key, or installs the one
// makeSem builds if none exists yet, atomically with respect to
// other GetOrCreate/Del calls on the same key.
func (t *semTable) GetOrCreate(key int32, makeSem func() *sync2.Semaphore) *sync2.Semaphore {
	if sem, ok := t.Get(key); ok {
		return sem
	}
	b := t.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			return e.sem
		}
	}
	n := &semElem{key: key, sem: makeSem()}
	n.next.Store(b.first.Load())
	b.first.Store(n)
	return n.sem
}

// Del removes key's semaphore, if present.
func (t *semTable) Del(key int32) {
	b := t.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	var prev *semElem
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			if prev == nil {
				b.first.Store(e.next.Load())
			} else {
				prev.next.Store(e.next.Load())
			}
			return
		}
		prev = e
	}
}
