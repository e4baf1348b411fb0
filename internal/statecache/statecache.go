// Package statecache implements an in-RAM, advisory cache that
// suppresses re-enqueueing of recently seen states. Correctness never
// depends on a cache hit; the disk filter stage
// (internal/streamops.Filter) is authoritative for removing
// already-closed states. Suppression, however, must only ever happen
// on a true data match: a child that is wrongly suppressed was never
// enqueued and the filter cannot bring it back. Each cached entry
// therefore carries the record's data bytes, and Observe treats a
// hash collision against a different state as a miss.
package statecache

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"

	"kwirksearch/internal/state"
)

// cell is one cached record: its data bits and the frame it was last
// observed at.
type cell struct {
	data  []byte
	frame int64
}

// Cache maps a CompressedState's data bits to the frame at which it
// was most recently observed. It is sharded by ristretto internally;
// callers do not need their own locking.
type Cache struct {
	c     state.Codec
	inner *ristretto.Cache[uint64, cell]
}

// New builds a Cache sized for approximately numEntries live records.
// The caller computes numEntries from its own RAM budget and
// nodes-per-hash bookkeeping and passes it straight through.
func New(c state.Codec, numEntries int64) (*Cache, error) {
	if numEntries < 100 {
		numEntries = 100
	}
	inner, err := ristretto.NewCache(&ristretto.Config[uint64, cell]{
		NumCounters: numEntries * 10,
		MaxCost:     numEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("statecache: new cache: %w", err)
	}
	return &Cache{c: c, inner: inner}, nil
}

// key hashes a record's data bits (subframe excluded) with xxhash, the
// same hash family ristretto itself is already built on.
func (ca *Cache) key(rec state.Record) uint64 {
	return xxhash.Sum64(ca.c.Data(rec))
}

// Observe reports whether the caller should forward (state, frame) to
// the open queue. It returns true on a first sighting, on a hash
// collision with a different state, or when the previously recorded
// frame for this exact state was strictly greater than frame
// (rediscovered on a shorter path). Suppression only happens when the
// cached entry's data bytes match the record's, so a suppressed child
// is always a true rediscovery that an earlier Observe already sent to
// the open queue.
func (ca *Cache) Observe(rec state.Record, frame int64) bool {
	k := ca.key(rec)
	prev, ok := ca.inner.Get(k)
	ca.inner.Set(k, cell{data: append([]byte(nil), ca.c.Data(rec)...), frame: frame}, 1)
	if !ok || !bytes.Equal(prev.data, ca.c.Data(rec)) {
		return true
	}
	return prev.frame > frame
}

// Reset clears the cache. Called between frame groups, since the cache
// only lives for the duration of one group's processing.
func (ca *Cache) Reset() {
	ca.inner.Clear()
}

// Close releases the cache's background goroutines.
func (ca *Cache) Close() {
	ca.inner.Close()
}
