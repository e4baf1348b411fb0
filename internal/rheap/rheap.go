// Package rheap implements a min-heap merge over N sorted streams of
// CompressedState records, with a ScanTo operation that advances
// streams with a tight inner loop instead of paying O(log n) heap work
// per skipped record.
package rheap

import (
	"container/heap"
	"fmt"

	"kwirksearch/internal/state"
)

// Source is the minimal streaming contract rheap needs: sequential,
// whole-record reads that return ok=false at EOF. internal/iostream's
// BufferedInput satisfies this.
type Source interface {
	Read() (rec []byte, ok bool, err error)
}

// entry pairs a stream's current head record with its source index.
// The source index is carried explicitly per the Design Notes' "subframe
// ambiguity" callout: rather than recovering "which stream did this
// record come from" via pointer arithmetic, every head knows its own
// stream index directly.
type entry struct {
	rec    state.Record
	stream int
}

// heapSlice implements container/heap.Interface ordered by the codec's
// data-bits comparator, with stream index as a stable tiebreaker so
// scan_to's "second-smallest" notion is well defined even among equal
// records.
type heapSlice struct {
	c       state.Codec
	entries []entry
}

func (h *heapSlice) Len() int { return len(h.entries) }
func (h *heapSlice) Less(i, j int) bool {
	cmp := h.c.Compare(h.entries[i].rec, h.entries[j].rec)
	if cmp != 0 {
		return cmp < 0
	}
	return h.entries[i].stream < h.entries[j].stream
}
func (h *heapSlice) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *heapSlice) Push(x any)    { h.entries = append(h.entries, x.(entry)) }
func (h *heapSlice) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

// Heap is the k-way input heap over a fixed set of Sources.
type Heap struct {
	c       state.Codec
	sources []Source
	h       *heapSlice
}

// New builds a min-heap from the head record of every source. Sources
// that are already at EOF are omitted.
func New(c state.Codec, sources []Source) (*Heap, error) {
	h := &Heap{c: c, sources: sources, h: &heapSlice{c: c}}
	for i, s := range sources {
		rec, ok, err := s.Read()
		if err != nil {
			return nil, fmt.Errorf("rheap: priming stream %d: %w", i, err)
		}
		if !ok {
			continue
		}
		h.h.entries = append(h.h.entries, entry{rec: rec, stream: i})
	}
	heap.Init(h.h)
	return h, nil
}

// Empty reports whether every source has been exhausted.
func (h *Heap) Empty() bool { return h.h.Len() == 0 }

// Head returns the current minimum record and the index of the source it
// came from. ok is false when every stream is exhausted.
func (h *Heap) Head() (rec state.Record, stream int, ok bool) {
	if h.h.Len() == 0 {
		return nil, -1, false
	}
	top := h.h.entries[0]
	return top.rec, top.stream, true
}

// Next replaces the current head with the next record from its stream,
// or removes the stream entirely on EOF, then restores the heap
// invariant. It reports false once the heap is empty.
func (h *Heap) Next() (bool, error) {
	if h.h.Len() == 0 {
		return false, nil
	}
	top := h.h.entries[0]
	rec, ok, err := h.sources[top.stream].Read()
	if err != nil {
		return false, fmt.Errorf("rheap: reading stream %d: %w", top.stream, err)
	}
	if !ok {
		heap.Pop(h.h)
		return h.h.Len() > 0, nil
	}
	h.h.entries[0] = entry{rec: rec, stream: top.stream}
	heap.Fix(h.h, 0)
	return true, nil
}

// secondMin returns the second-smallest head across all live streams, or
// ok=false if fewer than two streams remain. container/heap only
// guarantees the root is minimal, so this scans every non-root entry
// (one per other live stream); ScanTo calls it once per stream it
// advances, not once per skipped record.
func (h *Heap) secondMin() (rec state.Record, ok bool) {
	n := h.h.Len()
	if n < 2 {
		return nil, false
	}
	best := -1
	for i := 1; i < n; i++ {
		if best == -1 || h.c.Compare(h.h.entries[i].rec, h.h.entries[best].rec) < 0 {
			best = i
		}
	}
	return h.h.entries[best].rec, true
}

// ScanTo advances every stream whose head sorts strictly before target,
// using a tight inner loop per stream: while that stream's head is less
// than min(target, second-smallest-head), it keeps reading from that
// stream alone, then sifts the heap down once. This avoids paying
// O(log n) heap work per skipped record.
func (h *Heap) ScanTo(target state.Record) error {
	for h.h.Len() > 0 && h.c.Compare(h.h.entries[0].rec, target) < 0 {
		bound := target
		if sm, ok := h.secondMin(); ok && h.c.Compare(sm, bound) < 0 {
			bound = sm
		}
		// The head itself is < target, so at least one read always
		// happens; keep reading the same stream while its records stay
		// below bound.
		top := h.h.entries[0]
		var rec state.Record
		var ok bool
		for {
			var err error
			rec, ok, err = h.sources[top.stream].Read()
			if err != nil {
				return fmt.Errorf("rheap: scan_to stream %d: %w", top.stream, err)
			}
			if !ok || h.c.Compare(rec, bound) >= 0 {
				break
			}
		}
		if !ok {
			heap.Remove(h.h, 0)
			continue
		}
		h.h.entries[0] = entry{rec: rec, stream: top.stream}
		heap.Fix(h.h, 0)
	}
	return nil
}
