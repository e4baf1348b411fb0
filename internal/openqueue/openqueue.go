// Package openqueue implements the per-frame-group open queue:
// append-only output files indexed by frame group, each guarded by its
// own mutex, bounded in count by MaxGroups.
package openqueue

import (
	"fmt"
	"sync"

	"kwirksearch/internal/iostream"
	"kwirksearch/internal/naming"
	"kwirksearch/internal/state"
)

// Queue manages one lazily-opened BufferedOutput per frame group.
type Queue struct {
	c              state.Codec
	scheme         naming.Scheme
	framesPerGroup int
	maxGroups      int64
	bufBytes       int

	mus     []sync.Mutex
	streams []*iostream.BufferedOutput
	noQueue []bool
}

// New allocates a Queue able to address frame groups [0, maxGroups).
// Per-group mutexes are a fixed array, not allocated per use, matching
// Design Notes' guidance on MAX_GROUPS-sized mutex arrays.
func New(c state.Codec, scheme naming.Scheme, framesPerGroup int, maxGroups int64, bufBytes int) *Queue {
	return &Queue{
		c:              c,
		scheme:         scheme,
		framesPerGroup: framesPerGroup,
		maxGroups:      maxGroups,
		bufBytes:       bufBytes,
		mus:            make([]sync.Mutex, maxGroups),
		streams:        make([]*iostream.BufferedOutput, maxGroups),
		noQueue:        make([]bool, maxGroups),
	}
}

// SetNoQueue marks group g as a drop target: Enqueue silently discards
// writes to it. Used when regenerating open files to avoid clobbering
// frame groups that already have data.
func (q *Queue) SetNoQueue(g int64) {
	if g >= 0 && g < q.maxGroups {
		q.noQueue[g] = true
	}
}

// Enqueue appends state at the given absolute frame, computing its
// group and subframe from it. Writes to a group beyond maxGroups or
// marked no-queue are dropped silently.
func (q *Queue) Enqueue(rec state.Record, frame int64) error {
	g := frame / int64(q.framesPerGroup)
	if g < 0 || g >= q.maxGroups || q.noQueue[g] {
		return nil
	}
	q.c.SetSubframe(rec, frame, q.framesPerGroup)

	q.mus[g].Lock()
	defer q.mus[g].Unlock()

	if q.streams[g] == nil {
		resume := naming.Exists(q.scheme.Open(g))
		out, err := iostream.OpenBufferedOutput(q.scheme.Open(g), len(q.c.New()), q.bufBytes, resume)
		if err != nil {
			return fmt.Errorf("openqueue: opening group %d: %w", g, err)
		}
		q.streams[g] = out
	}
	if err := q.streams[g].Write(rec); err != nil {
		return fmt.Errorf("openqueue: writing group %d: %w", g, err)
	}
	return nil
}

// FlushAll flushes every currently-open group file. After this returns,
// every prior Enqueue call is durable on disk.
func (q *Queue) FlushAll() error {
	for g := int64(0); g < q.maxGroups; g++ {
		q.mus[g].Lock()
		s := q.streams[g]
		q.mus[g].Unlock()
		if s == nil {
			continue
		}
		if err := s.Flush(); err != nil {
			return fmt.Errorf("openqueue: flushing group %d: %w", g, err)
		}
	}
	return nil
}

// CloseAll closes every open group stream. Enqueue reopens lazily in
// append mode, so this is safe any time the files themselves are about
// to be rewritten or renamed out from under the queue.
func (q *Queue) CloseAll() error {
	for g := int64(0); g < q.maxGroups; g++ {
		if err := q.CloseGroup(g); err != nil {
			return err
		}
	}
	return nil
}

// CloseGroup flushes and closes group g's stream, releasing it so the
// BFS driver can consume open_g as a plain file.
func (q *Queue) CloseGroup(g int64) error {
	q.mus[g].Lock()
	defer q.mus[g].Unlock()
	if q.streams[g] == nil {
		return nil
	}
	err := q.streams[g].Close()
	q.streams[g] = nil
	if err != nil {
		return fmt.Errorf("openqueue: closing group %d: %w", g, err)
	}
	return nil
}
