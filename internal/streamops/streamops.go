// Package streamops implements the stream operators of the frontier
// engine: merge, filter, two-way merge, and in-place deduplicate over
// sorted runs of CompressedState records. Every operator orders by data
// bits. Merge and Deduplicate collapse data-equal ties to the record with
// the smallest subframe; MergeTwo keeps b's copy on a tie.
package streamops

import (
	"fmt"
	"sort"

	"kwirksearch/internal/rheap"
	"kwirksearch/internal/state"
)

// Reader is satisfied by internal/iostream's BufferedInput.
type Reader interface {
	Read() (rec []byte, ok bool, err error)
}

// Writer is satisfied by internal/iostream's BufferedOutput.
type Writer interface {
	Write(rec []byte) error
}

// Merge performs a k-way merge of inputs into output, deduplicating:
// when two records across streams carry equal data bits, the one with
// the smaller subframe is kept (the earliest frame wins).
func Merge(c state.Codec, inputs []Reader, output Writer) (int64, error) {
	sources := make([]rheap.Source, len(inputs))
	for i, in := range inputs {
		sources[i] = in
	}
	h, err := rheap.New(c, sources)
	if err != nil {
		return 0, fmt.Errorf("streamops: merge: %w", err)
	}

	var written int64
	var pending state.Record
	for {
		rec, _, ok := h.Head()
		if !ok {
			break
		}
		switch {
		case pending == nil:
			pending = c.Copy(rec)
		case c.Equal(pending, rec):
			if c.Subframe(rec) < c.Subframe(pending) {
				pending = c.Copy(rec)
			}
		default:
			if err := output.Write(pending); err != nil {
				return written, fmt.Errorf("streamops: merge write: %w", err)
			}
			written++
			pending = c.Copy(rec)
		}
		more, err := h.Next()
		if err != nil {
			return written, fmt.Errorf("streamops: merge: %w", err)
		}
		if !more {
			break
		}
	}
	if pending != nil {
		if err := output.Write(pending); err != nil {
			return written, fmt.Errorf("streamops: merge final write: %w", err)
		}
		written++
	}
	return written, nil
}

// OnKept is invoked once per record that survives Filter/MergeTwo, after
// it has been appended to the corresponding output.
type OnKept func(rec state.Record) error

// Filter streams source through, copying to output every record absent
// from the union of excludes, invoking onKept for each kept record.
// source and every exclude stream MUST already be sorted+deduplicated.
func Filter(c state.Codec, source Reader, excludes []Reader, output Writer, onKept OnKept) (int64, int64, error) {
	exSources := make([]rheap.Source, len(excludes))
	for i, e := range excludes {
		exSources[i] = e
	}
	exHeap, err := rheap.New(c, exSources)
	if err != nil {
		return 0, 0, fmt.Errorf("streamops: filter: building exclude heap: %w", err)
	}

	var kept, dropped int64
	for {
		rec, ok, err := source.Read()
		if err != nil {
			return kept, dropped, fmt.Errorf("streamops: filter: reading source: %w", err)
		}
		if !ok {
			break
		}
		if err := exHeap.ScanTo(rec); err != nil {
			return kept, dropped, fmt.Errorf("streamops: filter: %w", err)
		}
		if head, _, ok := exHeap.Head(); ok && c.Equal(head, rec) {
			dropped++
			continue
		}
		if err := output.Write(rec); err != nil {
			return kept, dropped, fmt.Errorf("streamops: filter write: %w", err)
		}
		kept++
		if onKept != nil {
			if err := onKept(rec); err != nil {
				return kept, dropped, fmt.Errorf("streamops: filter on_kept: %w", err)
			}
		}
	}
	return kept, dropped, nil
}

// MergeTwo is the specialized two-way merge used to fold a newly-merged
// open set (a) into the "all" file (b, itself a heap over one or more
// sorted streams) while simultaneously emitting the a-only "closing"
// set. On a data-bit tie, b's copy flows to outputUnion: it was closed
// at an earlier group, so it is the canonical representative.
func MergeTwo(c state.Codec, a Reader, b []Reader, outputUnion, outputAOnly Writer, onAOnly OnKept) (int64, int64, error) {
	bSources := make([]rheap.Source, len(b))
	for i, s := range b {
		bSources[i] = s
	}
	bHeap, err := rheap.New(c, bSources)
	if err != nil {
		return 0, 0, fmt.Errorf("streamops: merge_two: building b heap: %w", err)
	}

	var unionCount, aOnlyCount int64
	for {
		aRec, aOK, err := a.Read()
		if err != nil {
			return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two: reading a: %w", err)
		}
		if !aOK {
			break
		}
		bHead, _, bOK := bHeap.Head()

		// Emit every b record strictly less than aRec: present in the
		// union only.
		for bOK && c.Less(bHead, aRec) {
			if err := outputUnion.Write(bHead); err != nil {
				return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two union write: %w", err)
			}
			unionCount++
			more, err := bHeap.Next()
			if err != nil {
				return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two: %w", err)
			}
			if !more {
				bOK = false
				break
			}
			bHead, _, bOK = bHeap.Head()
		}

		if bOK && c.Equal(bHead, aRec) {
			// Present in both: union keeps it, but it is not a-only.
			if err := outputUnion.Write(bHead); err != nil {
				return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two union write: %w", err)
			}
			unionCount++
			if _, err := bHeap.Next(); err != nil {
				return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two: %w", err)
			}
			continue
		}

		// a-only.
		if err := outputUnion.Write(aRec); err != nil {
			return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two union write: %w", err)
		}
		unionCount++
		if err := outputAOnly.Write(aRec); err != nil {
			return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two a-only write: %w", err)
		}
		aOnlyCount++
		if onAOnly != nil {
			if err := onAOnly(aRec); err != nil {
				return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two on_a_only: %w", err)
			}
		}
	}

	// a exhausted: the remainder of b flows straight to the union.
	for {
		head, _, ok := bHeap.Head()
		if !ok {
			break
		}
		if err := outputUnion.Write(head); err != nil {
			return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two union drain: %w", err)
		}
		unionCount++
		more, err := bHeap.Next()
		if err != nil {
			return unionCount, aOnlyCount, fmt.Errorf("streamops: merge_two: %w", err)
		}
		if !more {
			break
		}
	}
	return unionCount, aOnlyCount, nil
}

// recordRun sorts a flat run of fixed-size records in place, swapping
// the record bytes themselves so the buffer stays the single source of
// truth during the subsequent in-place dedup pass.
type recordRun struct {
	c       state.Codec
	buf     []byte
	recSize int
	n       int
	tmp     []byte
}

func (r *recordRun) at(i int) state.Record { return r.buf[i*r.recSize : (i+1)*r.recSize] }
func (r *recordRun) Len() int              { return r.n }
func (r *recordRun) Less(i, j int) bool    { return r.c.Less(r.at(i), r.at(j)) }
func (r *recordRun) Swap(i, j int) {
	copy(r.tmp, r.at(i))
	copy(r.at(i), r.at(j))
	copy(r.at(j), r.tmp)
}

// Deduplicate sorts buf (a flat slice of n records, each recSize bytes)
// in place and collapses data-equal runs to the record with the
// smallest subframe, returning the surviving record count. Used by the
// BFS driver's sort phase on each in-RAM chunk.
func Deduplicate(c state.Codec, buf []byte, n int) int {
	recSize := len(c.New())
	run := &recordRun{c: c, buf: buf, recSize: recSize, n: n, tmp: make([]byte, recSize)}
	sort.Sort(run)

	out := 0
	for i := 0; i < n; {
		best := i
		j := i + 1
		for j < n && c.Equal(run.at(j), run.at(best)) {
			if c.Subframe(run.at(j)) < c.Subframe(run.at(best)) {
				best = j
			}
			j++
		}
		// out <= i <= best, so this never clobbers an unprocessed record.
		copy(buf[out*recSize:(out+1)*recSize], run.at(best))
		out++
		i = j
	}
	return out
}
