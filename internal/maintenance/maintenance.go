// Package maintenance implements the out-of-band maintenance commands:
// dump, sample, compare, verify, sort-open, filter-open,
// seq-filter-open, regenerate-open, create-all, find-exit, pack-open,
// convert, unpack, count. Each operates through internal/iostream and
// internal/streamops rather than touching files directly.
package maintenance

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/rs/zerolog"

	"kwirksearch/internal/iostream"
	"kwirksearch/internal/naming"
	"kwirksearch/internal/problem"
	"kwirksearch/internal/rheap"
	"kwirksearch/internal/state"
	"kwirksearch/internal/streamops"
)

// Maintenance bundles the collaborators every command needs.
type Maintenance[S any] struct {
	prob   problem.Problem[S]
	c      state.Codec
	scheme naming.Scheme
	log    zerolog.Logger
	bufSz  int
	fpg    int
}

// New builds a Maintenance runner.
func New[S any](prob problem.Problem[S], c state.Codec, scheme naming.Scheme, log zerolog.Logger, bufSz, fpg int) *Maintenance[S] {
	return &Maintenance[S]{prob: prob, c: c, scheme: scheme, log: log, bufSz: bufSz, fpg: fpg}
}

func (m *Maintenance[S]) recSize() int { return len(m.c.New()) }

// resolveFile returns closed_g if present, otherwise open_g; error if
// neither exists.
func (m *Maintenance[S]) resolveFile(g int64) (string, error) {
	if p := m.scheme.Closed(g); naming.Exists(p) {
		return p, nil
	}
	if p := m.scheme.Open(g); naming.Exists(p) {
		return p, nil
	}
	return "", fmt.Errorf("maintenance: no open or closed file for frame group %d", g)
}

// Dump prints every record in open_g/closed_g as its textual state
// rendering, prefixed by its absolute frame when frame grouping is
// enabled.
func (m *Maintenance[S]) Dump(g int64) (string, error) {
	fn, err := m.resolveFile(g)
	if err != nil {
		return "", err
	}
	in, err := iostream.OpenBufferedInput(fn, m.recSize(), m.bufSz)
	if err != nil {
		return "", err
	}
	defer in.Close()

	var sb strings.Builder
	for {
		rec, ok, err := in.Read()
		if err != nil {
			return sb.String(), err
		}
		if !ok {
			break
		}
		if m.fpg > 1 {
			fmt.Fprintf(&sb, "Frame %d:\n", m.c.Frame(g, rec, m.fpg))
		}
		sb.WriteString(m.prob.StateToString(m.prob.Decompress(m.c.Data(rec))))
	}
	return sb.String(), nil
}

// Sample prints one uniformly random record from open_g/closed_g.
func (m *Maintenance[S]) Sample(g int64) (string, error) {
	fn, err := m.resolveFile(g)
	if err != nil {
		return "", err
	}
	in, err := iostream.OpenInput(fn, m.recSize())
	if err != nil {
		return "", err
	}
	defer in.Close()

	if in.Size() == 0 {
		return "", fmt.Errorf("maintenance: %s is empty", fn)
	}
	idx := rand.Int63n(in.Size())
	if err := in.Seek(idx); err != nil {
		return "", err
	}
	buf := make([]byte, m.recSize())
	if _, err := in.Read(buf); err != nil {
		return "", err
	}
	rec := state.Record(buf)
	out := ""
	if m.fpg > 1 {
		out = fmt.Sprintf("Frame %d:\n", m.c.Frame(g, rec, m.fpg))
	}
	return out + m.prob.StateToString(m.prob.Decompress(m.c.Data(rec))), nil
}

// CompareResult reports Compare's findings.
type CompareResult struct {
	Size1, Size2 int64
	Duplicates   int64
	Interweaves  int64
}

// Compare walks two sorted files in lock-step, counting duplicate
// states and "interweaves" (how often the running minimum switches
// sides), a diagnostic for how much two closed/open files overlap.
func (m *Maintenance[S]) Compare(fn1, fn2 string) (CompareResult, error) {
	i1, err := iostream.OpenBufferedInput(fn1, m.recSize(), m.bufSz)
	if err != nil {
		return CompareResult{}, err
	}
	defer i1.Close()
	i2, err := iostream.OpenBufferedInput(fn2, m.recSize(), m.bufSz)
	if err != nil {
		return CompareResult{}, err
	}
	defer i2.Close()

	res := CompareResult{Size1: i1.Size(), Size2: i2.Size()}

	r1, ok1, err := i1.Read()
	if err != nil {
		return res, err
	}
	r2, ok2, err := i2.Read()
	if err != nil {
		return res, err
	}
	last := 0
	for ok1 && ok2 {
		var cur int
		switch {
		case m.c.Less(r1, r2):
			r1, ok1, err = i1.Read()
			cur = -1
		case m.c.Less(r2, r1):
			r2, ok2, err = i2.Read()
			cur = 1
		default:
			res.Duplicates++
			r1, ok1, err = i1.Read()
			if err == nil {
				r2, ok2, err = i2.Read()
			}
			cur = 0
		}
		if err != nil {
			return res, err
		}
		if cur != last {
			res.Interweaves++
		}
		last = cur
	}
	return res, nil
}

// VerifyResult reports Verify's findings.
type VerifyResult struct {
	Sorted            bool
	Deduplicated      bool
	FirstEqualAt      int64
	FirstOutOfOrderAt int64
}

// Verify checks that filename is sorted and duplicate-free, and (when
// frame grouping is enabled) that every subframe is within range.
func (m *Maintenance[S]) Verify(filename string, framesPerGroup int) (VerifyResult, error) {
	in, err := iostream.OpenBufferedInput(filename, m.recSize(), m.bufSz)
	if err != nil {
		return VerifyResult{}, err
	}
	defer in.Close()

	res := VerifyResult{Sorted: true, Deduplicated: true, FirstEqualAt: -1, FirstOutOfOrderAt: -1}
	prev, ok, err := in.Read()
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}
	prev = m.c.Copy(prev)
	if framesPerGroup > 1 && m.c.Subframe(prev) >= uint32(framesPerGroup) {
		return res, fmt.Errorf("maintenance: verify: invalid subframe at record 0 (corrupted data?)")
	}

	var pos int64
	for {
		cur, ok, err := in.Read()
		if err != nil {
			return res, err
		}
		pos++
		if !ok {
			return res, nil
		}
		if m.c.Equal(prev, cur) && res.FirstEqualAt < 0 {
			res.FirstEqualAt = pos
			res.Deduplicated = false
		}
		if m.c.Less(cur, prev) && res.FirstOutOfOrderAt < 0 {
			res.FirstOutOfOrderAt = pos
			res.Sorted = false
		}
		if framesPerGroup > 1 && m.c.Subframe(cur) >= uint32(framesPerGroup) {
			return res, fmt.Errorf("maintenance: verify: invalid subframe at record %d (corrupted data?)", pos)
		}
		prev = m.c.Copy(cur)
	}
}

// PackOpen re-runs the sort+dedup stage on every open_g in place,
// without merging: read in RAM-sized chunks, sort+dedup each chunk,
// write to openpacked_g, then swap it in for open_g.
func (m *Maintenance[S]) PackOpen(firstGroup, maxGroups int64, ramRecords int) error {
	for g := firstGroup; g < maxGroups; g++ {
		openPath := m.scheme.Open(g)
		if !naming.Exists(openPath) {
			continue
		}
		read, written, err := m.packOne(openPath, m.scheme.Openpacked(g), ramRecords)
		if err != nil {
			return fmt.Errorf("maintenance: pack-open group %d: %w", g, err)
		}
		m.log.Info().Int64("frame_group", g).Int64("records_in", read).Int64("records_out", written).Msg("packed open file")
		naming.RemoveIfExists(openPath)
		if err := naming.AtomicRename(m.scheme.Openpacked(g), openPath); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintenance[S]) packOne(src, dst string, ramRecords int) (read, written int64, err error) {
	in, err := iostream.OpenBufferedInput(src, m.recSize(), m.bufSz)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()
	out, err := iostream.OpenBufferedOutput(dst, m.recSize(), m.bufSz, false)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()

	buf := make([]byte, 0, ramRecords*m.recSize())
	for {
		rec, ok, rerr := in.Read()
		if rerr != nil {
			return read, written, rerr
		}
		if !ok {
			break
		}
		buf = append(buf, rec...)
		read++
		if len(buf) == cap(buf) {
			n := streamops.Deduplicate(m.c, buf, len(buf)/m.recSize())
			for i := 0; i < n; i++ {
				if werr := out.Write(buf[i*m.recSize() : (i+1)*m.recSize()]); werr != nil {
					return read, written, werr
				}
			}
			written += int64(n)
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		n := streamops.Deduplicate(m.c, buf, len(buf)/m.recSize())
		for i := 0; i < n; i++ {
			if werr := out.Write(buf[i*m.recSize() : (i+1)*m.recSize()]); werr != nil {
				return read, written, werr
			}
		}
		written += int64(n)
	}
	return read, written, out.Flush()
}

// CreateAll builds all_{maxClosed} by merging every existing closed
// file, used to bootstrap USE_ALL mode on a search that has been
// running without it.
func (m *Maintenance[S]) CreateAll(maxGroups int64) error {
	var inputs []*iostream.BufferedInput
	var readers []streamops.Reader
	var maxClosed int64 = -1
	for g := int64(0); g < maxGroups; g++ {
		p := m.scheme.Closed(g)
		if !naming.Exists(p) {
			continue
		}
		in, err := iostream.OpenBufferedInput(p, m.recSize(), m.bufSz)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
		readers = append(readers, in)
		maxClosed = g
	}
	defer func() {
		for _, in := range inputs {
			in.Close()
		}
	}()
	if maxClosed < 0 {
		return fmt.Errorf("maintenance: create-all: no closed files found")
	}

	allnewPath := m.scheme.Allnew(maxClosed)
	out, err := iostream.OpenBufferedOutput(allnewPath, m.recSize(), m.bufSz, false)
	if err != nil {
		return err
	}
	if _, err := streamops.Merge(m.c, readers, out); err != nil {
		out.Close()
		return fmt.Errorf("maintenance: create-all: merging: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return naming.AtomicRename(allnewPath, m.scheme.All(maxClosed))
}

// FindExitResult reports what FindExit located.
type FindExitResult struct {
	Found bool
	Group int64
	Frame int64
	State state.Record
}

// FindExit linearly scans every existing open/closed file for a finish
// state and returns its location for the caller to hand to
// internal/exittrace.
func (m *Maintenance[S]) FindExit(firstGroup, maxGroups int64) (FindExitResult, error) {
	for g := firstGroup; g < maxGroups; g++ {
		fn := m.scheme.Closed(g)
		if !naming.Exists(fn) {
			fn = m.scheme.Open(g)
			if !naming.Exists(fn) {
				continue
			}
		}
		in, err := iostream.OpenBufferedInput(fn, m.recSize(), m.bufSz)
		if err != nil {
			return FindExitResult{}, err
		}
		for {
			rec, ok, rerr := in.Read()
			if rerr != nil {
				in.Close()
				return FindExitResult{}, rerr
			}
			if !ok {
				break
			}
			s := m.prob.Decompress(m.c.Data(rec))
			if m.prob.IsFinish(s) {
				frame := m.c.Frame(g, rec, m.fpg)
				in.Close()
				return FindExitResult{Found: true, Group: g, Frame: frame, State: m.c.Copy(rec)}, nil
			}
		}
		in.Close()
	}
	return FindExitResult{Found: false}, nil
}

// Count reports, per existing closed_g, how many records carry each
// subframe value.
func (m *Maintenance[S]) Count(firstGroup, maxGroups int64, framesPerGroup int) (map[int64][]int64, error) {
	result := make(map[int64][]int64)
	for g := firstGroup; g < maxGroups; g++ {
		fn := m.scheme.Closed(g)
		if !naming.Exists(fn) {
			continue
		}
		in, err := iostream.OpenBufferedInput(fn, m.recSize(), m.bufSz)
		if err != nil {
			return nil, err
		}
		counts := make([]int64, framesPerGroup)
		for {
			rec, ok, rerr := in.Read()
			if rerr != nil {
				in.Close()
				return nil, rerr
			}
			if !ok {
				break
			}
			counts[m.c.Subframe(rec)]++
		}
		in.Close()
		result[g] = counts
	}
	return result, nil
}

// Unpack splits every closed_g back into per-frame closed_<f> files.
// Only meaningful with frame grouping enabled.
func (m *Maintenance[S]) Unpack(firstGroup, maxGroups int64, framesPerGroup int) error {
	for g := firstGroup; g < maxGroups; g++ {
		fn := m.scheme.Closed(g)
		if !naming.Exists(fn) {
			continue
		}
		in, err := iostream.OpenBufferedInput(fn, m.recSize(), m.bufSz)
		if err != nil {
			return err
		}
		outs := make([]*iostream.BufferedOutput, framesPerGroup)
		for i := 0; i < framesPerGroup; i++ {
			p := fmt.Sprintf("%s-closed%d.bin", m.scheme.Problem, g*int64(framesPerGroup)+int64(i))
			out, oerr := iostream.OpenBufferedOutput(p, m.recSize(), m.bufSz, false)
			if oerr != nil {
				in.Close()
				return oerr
			}
			outs[i] = out
		}
		for {
			rec, ok, rerr := in.Read()
			if rerr != nil {
				in.Close()
				return rerr
			}
			if !ok {
				break
			}
			sf := m.c.Subframe(rec)
			plain := m.c.Copy(rec)
			m.c.SetSubframe(plain, 0, framesPerGroup)
			if werr := outs[sf].Write(plain); werr != nil {
				in.Close()
				return werr
			}
		}
		in.Close()
		for _, out := range outs {
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// sortAndMerge is the shared sort+merge routine behind SortOpen: chunk
// src into RAM-sized sorted+deduplicated runs, then k-way merge the
// chunks into dst. It mirrors the BFS driver's own sort phase but is
// reimplemented here, independent of internal/bfs, so maintenance
// commands can run without constructing a full Driver.
func (m *Maintenance[S]) sortAndMerge(src, dst string, ramRecords int) (int64, int64, error) {
	in, err := iostream.OpenBufferedInput(src, m.recSize(), m.bufSz)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	var chunkPaths []string
	buf := make([]byte, 0, ramRecords*m.recSize())
	chunkIdx := 0
	var read int64
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n := streamops.Deduplicate(m.c, buf, len(buf)/m.recSize())
		path := fmt.Sprintf("%s.chunk%d.tmp", dst, chunkIdx)
		out, oerr := iostream.OpenBufferedOutput(path, m.recSize(), m.bufSz, false)
		if oerr != nil {
			return oerr
		}
		for i := 0; i < n; i++ {
			if werr := out.Write(buf[i*m.recSize() : (i+1)*m.recSize()]); werr != nil {
				out.Close()
				return werr
			}
		}
		if cerr := out.Close(); cerr != nil {
			return cerr
		}
		chunkPaths = append(chunkPaths, path)
		chunkIdx++
		buf = buf[:0]
		return nil
	}
	for {
		rec, ok, rerr := in.Read()
		if rerr != nil {
			return read, 0, rerr
		}
		if !ok {
			break
		}
		buf = append(buf, rec...)
		read++
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return read, 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return read, 0, err
	}
	defer func() {
		for _, p := range chunkPaths {
			naming.RemoveIfExists(p)
		}
	}()

	if len(chunkPaths) == 0 {
		out, oerr := iostream.OpenBufferedOutput(dst, m.recSize(), m.bufSz, false)
		if oerr != nil {
			return read, 0, oerr
		}
		return read, 0, out.Close()
	}
	if len(chunkPaths) == 1 {
		chunkIn, oerr := iostream.OpenBufferedInput(chunkPaths[0], m.recSize(), m.bufSz)
		if oerr != nil {
			return read, 0, oerr
		}
		n := chunkIn.Size()
		chunkIn.Close()
		return read, n, naming.AtomicRename(chunkPaths[0], dst)
	}

	inputs := make([]*iostream.BufferedInput, len(chunkPaths))
	readers := make([]streamops.Reader, len(chunkPaths))
	for i, p := range chunkPaths {
		cin, oerr := iostream.OpenBufferedInput(p, m.recSize(), m.bufSz)
		if oerr != nil {
			return read, 0, oerr
		}
		inputs[i] = cin
		readers[i] = cin
	}
	out, oerr := iostream.OpenBufferedOutput(dst, m.recSize(), m.bufSz, false)
	if oerr != nil {
		return read, 0, oerr
	}
	written, merr := streamops.Merge(m.c, readers, out)
	for _, cin := range inputs {
		cin.Close()
	}
	if merr != nil {
		out.Close()
		return read, written, merr
	}
	return read, written, out.Close()
}

// SortOpen re-runs the sort+merge stage only for every open_g, from
// the highest group down to the lowest. The merged result replaces
// open_g in place.
func (m *Maintenance[S]) SortOpen(firstGroup, maxGroups int64, ramRecords int) error {
	for g := maxGroups - 1; g >= firstGroup; g-- {
		openPath := m.scheme.Open(g)
		if !naming.Exists(openPath) {
			continue
		}
		mergedPath := m.scheme.Merged(g)
		if naming.Exists(mergedPath) {
			return fmt.Errorf("maintenance: sort-open: merged_%d already present", g)
		}
		read, written, err := m.sortAndMerge(openPath, mergedPath, ramRecords)
		if err != nil {
			return fmt.Errorf("maintenance: sort-open group %d: %w", g, err)
		}
		naming.RemoveIfExists(openPath)
		if err := naming.AtomicRename(mergedPath, openPath); err != nil {
			return err
		}
		m.log.Info().Int64("frame_group", g).Int64("records_in", read).Int64("records_out", written).Msg("sort-open done")
	}
	return nil
}

// FilterOpen filters every open file in place against the union of
// closed (or all, when present) files, in one simultaneous pass over
// all of them. The open files must already be sorted (run sort-open
// first). Duplicate states across open files collapse to the copy with
// the lowest frame, which is rewritten into that frame's group; each
// open file is then truncated down to its surviving records.
func (m *Maintenance[S]) FilterOpen(maxGroups int64) error {
	rewrites := make(map[int64]*iostream.BufferedRewrite)
	defer func() {
		for _, rw := range rewrites {
			rw.Close()
		}
	}()

	var openSources []rheap.Source
	var openGroups []int64
	for g := int64(0); g < maxGroups; g++ {
		openPath := m.scheme.Open(g)
		if !naming.Exists(openPath) {
			continue
		}
		if naming.Exists(m.scheme.Closed(g)) {
			return fmt.Errorf("maintenance: filter-open: open and closed both present for group %d", g)
		}
		rw, err := iostream.OpenBufferedRewrite(openPath, m.recSize(), m.bufSz)
		if err != nil {
			return err
		}
		rewrites[g] = rw
		openSources = append(openSources, rw)
		openGroups = append(openGroups, g)
	}
	if len(openSources) == 0 {
		return nil
	}

	var closedInputs []*iostream.BufferedInput
	defer func() {
		for _, in := range closedInputs {
			in.Close()
		}
	}()
	var closedSources []rheap.Source
	for g := maxGroups - 1; g >= 0; g-- {
		p := m.scheme.All(g)
		if naming.Exists(p) {
			in, err := iostream.OpenBufferedInput(p, m.recSize(), m.bufSz)
			if err != nil {
				return err
			}
			closedInputs = append(closedInputs, in)
			closedSources = append(closedSources, in)
			break
		}
		p = m.scheme.Closed(g)
		if !naming.Exists(p) {
			continue
		}
		in, err := iostream.OpenBufferedInput(p, m.recSize(), m.bufSz)
		if err != nil {
			return err
		}
		closedInputs = append(closedInputs, in)
		closedSources = append(closedSources, in)
	}

	openHeap, err := rheap.New(m.c, openSources)
	if err != nil {
		return fmt.Errorf("maintenance: filter-open: building open heap: %w", err)
	}
	closedHeap, err := rheap.New(m.c, closedSources)
	if err != nil {
		return fmt.Errorf("maintenance: filter-open: building closed heap: %w", err)
	}

	for {
		head, stream, ok := openHeap.Head()
		if !ok {
			break
		}
		o := m.c.Copy(head)
		lowestFrame := int64(-1)

		// Consume every copy of this state across the open files,
		// keeping the lowest frame seen.
		for ok && m.c.Equal(head, o) {
			g := openGroups[stream]
			frame := m.c.Frame(g, head, m.fpg)
			if lowestFrame < 0 || frame < lowestFrame {
				lowestFrame = frame
			}
			more, nerr := openHeap.Next()
			if nerr != nil {
				return fmt.Errorf("maintenance: filter-open: %w", nerr)
			}
			if !more {
				break
			}
			head, stream, ok = openHeap.Head()
			if ok && m.c.Less(head, o) {
				return fmt.Errorf("maintenance: filter-open: unsorted open node file for group %d (run sort-open first)", openGroups[stream])
			}
		}

		if err := closedHeap.ScanTo(o); err != nil {
			return fmt.Errorf("maintenance: filter-open: %w", err)
		}
		if ch, _, cok := closedHeap.Head(); cok && m.c.Equal(ch, o) {
			continue
		}

		m.c.SetSubframe(o, lowestFrame, m.fpg)
		dst := rewrites[lowestFrame/int64(m.fpg)]
		if dst == nil {
			return fmt.Errorf("maintenance: filter-open: no open file for group %d", lowestFrame/int64(m.fpg))
		}
		if err := dst.Write(o); err != nil {
			return err
		}
	}

	for g, rw := range rewrites {
		if err := rw.Truncate(); err != nil {
			return fmt.Errorf("maintenance: filter-open: truncating group %d: %w", g, err)
		}
		m.log.Info().Int64("frame_group", g).Msg("filter-open done")
	}
	return nil
}

// RegenerateOpen re-expands every closed file to repopulate missing
// open files, marking every frame group that already has an open or
// closed file as no_queue first so existing data is never clobbered
// (see DESIGN.md for why groups with only a partial closed file are
// still marked no-queue).
func (m *Maintenance[S]) RegenerateOpen(oq interface {
	SetNoQueue(g int64)
	Enqueue(rec state.Record, frame int64) error
	FlushAll() error
}, firstGroup, lastGroup, maxGroups int64, framesPerGroup int) error {
	// Children of a re-expanded group can land in any group, so every
	// group with existing data is protected, not just the scan range.
	for g := int64(0); g < maxGroups; g++ {
		if naming.Exists(m.scheme.Closed(g)) || naming.Exists(m.scheme.Open(g)) {
			oq.SetNoQueue(g)
		}
	}
	for g := firstGroup; g < lastGroup; g++ {
		closedPath := m.scheme.Closed(g)
		if !naming.Exists(closedPath) {
			continue
		}
		in, err := iostream.OpenBufferedInput(closedPath, m.recSize(), m.bufSz)
		if err != nil {
			return err
		}
		for {
			rec, ok, rerr := in.Read()
			if rerr != nil {
				in.Close()
				return rerr
			}
			if !ok {
				break
			}
			parentFrame := m.c.Frame(g, rec, framesPerGroup)
			s := m.prob.Decompress(m.c.Data(rec))
			var expErr error
			m.prob.Expand(s, func(child S, delay uint32, _ string) bool {
				childFrame := parentFrame + int64(delay)
				childRec := m.c.New()
				m.prob.Compress(child, m.c.Data(childRec))
				if err := oq.Enqueue(childRec, childFrame); err != nil {
					expErr = err
					return false
				}
				return true
			})
			if expErr != nil {
				in.Close()
				return expErr
			}
		}
		in.Close()
		if err := oq.FlushAll(); err != nil {
			return err
		}
		m.log.Info().Int64("frame_group", g).Msg("regenerate-open: group re-expanded")
	}
	return nil
}

// Convert rewrites legacy per-frame files ("<problem>-open<f>.bin" /
// "<problem>-closed<f>.bin", no group token) into frame-group files,
// merging each group's per-frame streams. Every source stream carries
// its subframe index explicitly, so the merge can stamp records as it
// reads them.
func (m *Maintenance[S]) Convert(firstGroup, maxGroups int64, framesPerGroup int) error {
	for g := firstGroup; g < maxGroups; g++ {
		var inputs []*iostream.BufferedInput
		var haveOpen, haveClosed bool
		subframeOf := map[int]int{}
		for f := g * int64(framesPerGroup); f < (g+1)*int64(framesPerGroup); f++ {
			sub := int(f - g*int64(framesPerGroup))
			closedPath := fmt.Sprintf("%s-closed%d.bin", m.scheme.Problem, f)
			openPath := fmt.Sprintf("%s-open%d.bin", m.scheme.Problem, f)
			var path string
			switch {
			case naming.Exists(closedPath):
				path, haveClosed = closedPath, true
			case naming.Exists(openPath):
				path, haveOpen = openPath, true
			default:
				continue
			}
			in, err := iostream.OpenBufferedInput(path, m.recSize(), m.bufSz)
			if err != nil {
				for _, prev := range inputs {
					prev.Close()
				}
				return err
			}
			subframeOf[len(inputs)] = sub
			inputs = append(inputs, in)
		}
		if !haveOpen && !haveClosed {
			continue
		}

		convertingPath := m.scheme.Converting(g)
		out, err := iostream.OpenBufferedOutput(convertingPath, m.recSize(), m.bufSz, false)
		if err != nil {
			for _, in := range inputs {
				in.Close()
			}
			return err
		}
		if err := m.convertMerge(inputs, subframeOf, framesPerGroup, out); err != nil {
			out.Close()
			for _, in := range inputs {
				in.Close()
			}
			return fmt.Errorf("maintenance: convert group %d: %w", g, err)
		}
		for _, in := range inputs {
			in.Close()
		}
		if err := out.Close(); err != nil {
			return err
		}

		dst := m.scheme.Closed(g)
		if haveOpen {
			dst = m.scheme.Open(g)
		}
		if err := naming.AtomicRename(convertingPath, dst); err != nil {
			return err
		}
		m.log.Info().Int64("frame_group", g).Msg("converted legacy per-frame files")
	}
	return nil
}

// convertMerge k-way merges inputs (each a distinct, explicitly-tagged
// subframe stream) into output, stamping each record's subframe from
// subframeOf and resolving data-equal ties to the smallest subframe.
func (m *Maintenance[S]) convertMerge(inputs []*iostream.BufferedInput, subframeOf map[int]int, framesPerGroup int, output *iostream.BufferedOutput) error {
	sources := make([]streamops.Reader, len(inputs))
	for i, in := range inputs {
		sources[i] = taggingReader{in: in, idx: i, c: m.c, subframeOf: subframeOf, fpg: framesPerGroup}
	}
	_, err := streamops.Merge(m.c, sources, output)
	return err
}

// taggingReader wraps a BufferedInput so every record it yields already
// carries its source stream's subframe tag, letting streamops.Merge's
// ordinary dedup-to-smallest-subframe rule do the rest.
type taggingReader struct {
	in         *iostream.BufferedInput
	idx        int
	c          state.Codec
	subframeOf map[int]int
	fpg        int
}

func (t taggingReader) Read() ([]byte, bool, error) {
	rec, ok, err := t.in.Read()
	if err != nil || !ok {
		return rec, ok, err
	}
	tagged := t.c.Copy(rec)
	t.c.SetSubframe(tagged, int64(t.subframeOf[t.idx]), t.fpg)
	return tagged, true, nil
}

// SeqFilterOpen filters open node lists without expanding them: per
// group, sort+merge open_g (reusing an interrupted merged_g if
// present), then filter it against every prior open/closed/all file,
// replacing open_g with the survivors.
func (m *Maintenance[S]) SeqFilterOpen(firstGroup, maxGroups int64, ramRecords int) error {
	for g := firstGroup; g < maxGroups; g++ {
		openPath := m.scheme.Open(g)
		if !naming.Exists(openPath) {
			continue
		}
		mergedPath := m.scheme.Merged(g)
		if !naming.Exists(mergedPath) {
			if _, _, err := m.sortAndMerge(openPath, mergedPath, ramRecords); err != nil {
				return fmt.Errorf("maintenance: seq-filter-open group %d: %w", g, err)
			}
		}

		merged, err := iostream.OpenBufferedInput(mergedPath, m.recSize(), m.bufSz)
		if err != nil {
			return err
		}
		var excludeInputs []*iostream.BufferedInput
		var excludes []streamops.Reader
		for k := g - 1; k >= 0; k-- {
			p := m.scheme.All(k)
			if !naming.Exists(p) {
				p = m.scheme.Open(k)
				if !naming.Exists(p) {
					p = m.scheme.Closed(k)
				}
			}
			if !naming.Exists(p) {
				continue
			}
			in, oerr := iostream.OpenBufferedInput(p, m.recSize(), m.bufSz)
			if oerr != nil {
				merged.Close()
				return oerr
			}
			excludeInputs = append(excludeInputs, in)
			excludes = append(excludes, in)
			if p == m.scheme.All(k) {
				break
			}
		}

		filteringPath := m.scheme.Filtering(g)
		out, err := iostream.OpenBufferedOutput(filteringPath, m.recSize(), m.bufSz, false)
		if err != nil {
			merged.Close()
			return err
		}
		kept, dropped, ferr := streamops.Filter(m.c, merged, excludes, out, nil)
		merged.Close()
		for _, in := range excludeInputs {
			in.Close()
		}
		if ferr != nil {
			out.Close()
			return fmt.Errorf("maintenance: seq-filter-open group %d: %w", g, ferr)
		}
		if err := out.Close(); err != nil {
			return err
		}

		naming.RemoveIfExists(mergedPath)
		naming.RemoveIfExists(openPath)
		if err := naming.AtomicRename(filteringPath, openPath); err != nil {
			return err
		}
		m.log.Info().Int64("frame_group", g).Int64("kept", kept).Int64("dropped", dropped).Msg("seq-filter-open done")
	}
	return nil
}
