// Package bfs implements the breadth-first search driver: the outer
// loop that closes one frame group per iteration, the finish-detection
// mutex, checkpointing, and resume-from-last-closed-group.
package bfs

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"kwirksearch/internal/diskspace"
	"kwirksearch/internal/iostream"
	"kwirksearch/internal/maintenance"
	"kwirksearch/internal/naming"
	"kwirksearch/internal/openqueue"
	"kwirksearch/internal/problem"
	"kwirksearch/internal/runconfig"
	"kwirksearch/internal/state"
	"kwirksearch/internal/statecache"
	"kwirksearch/internal/streamops"
	"kwirksearch/internal/workerpool"
)

// Outcome is the result of one Driver.Run call, mapped to the CLI's
// exit codes.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeStopped
	OutcomeExhausted
)

// Result carries a Driver.Run outcome plus, on OutcomeFound, the
// location of the finish state for exit tracing.
type Result struct {
	Outcome     Outcome
	FinishGroup int64
	FinishFrame int64
	FinishState state.Record
}

// Driver is the BFS driver (component H) for one Problem[S].
type Driver[S any] struct {
	prob   problem.Problem[S]
	c      state.Codec
	scheme naming.Scheme
	cfg    runconfig.Config
	log    zerolog.Logger

	oq    *openqueue.Queue
	cache *statecache.Cache
	pool  *workerpool.Pool

	finishMu    sync.Mutex
	finishFound bool
	finishFrame int64
	finishRec   state.Record

	recSize int
}

// NewDriver builds a Driver wired to its frontier-engine collaborators:
// openqueue, statecache, and workerpool are constructed here and passed
// into the Driver fully formed.
func NewDriver[S any](prob problem.Problem[S], c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) (*Driver[S], error) {
	oq := openqueue.New(c, scheme, cfg.FramesPerGroup, cfg.MaxFrameGroups(), cfg.StandardBufferSize)

	cacheEntries := cfg.RAMSize / int64(len(c.New())*cfg.NodesPerHash)
	cache, err := statecache.New(c, cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("bfs: building state cache: %w", err)
	}

	pool := workerpool.New(1 << 16)

	log.Info().
		Str("ram_budget", humanize.IBytes(uint64(cfg.RAMSize))).
		Int64("recent_state_cache_entries", cacheEntries).
		Int("workers", cfg.Workers()).
		Bool("use_all", cfg.UseAll).
		Msg("bfs driver initialized")

	return &Driver[S]{
		prob:    prob,
		c:       c,
		scheme:  scheme,
		cfg:     cfg,
		log:     log,
		oq:      oq,
		cache:   cache,
		pool:    pool,
		recSize: len(c.New()),
	}, nil
}

// OpenQueue exposes the driver's open queue so maintenance commands
// (e.g. regenerate-open) can share its frame-group bookkeeping instead
// of constructing a second one.
func (d *Driver[S]) OpenQueue() *openqueue.Queue { return d.oq }

// stopRequested reports and consumes the stop sentinel file: its mere
// presence requests a graceful stop, and it is deleted on detection.
func (d *Driver[S]) stopRequested() (bool, error) {
	path := d.scheme.StopFile()
	if !naming.Exists(path) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("bfs: removing stop sentinel: %w", err)
	}
	return true, nil
}

// firstGroup scans for the highest existing closed_g and returns g+1, or
// 0 if none exist.
func (d *Driver[S]) firstGroup() int64 {
	var g int64 = -1
	for i := int64(0); i < d.cfg.MaxFrameGroups(); i++ {
		if naming.Exists(d.scheme.Closed(i)) {
			g = i
		}
	}
	return g + 1
}

// seedInitialStates writes every problem initial state to the open
// queue at frame 0, run once before the outer loop when no prior
// progress exists.
func (d *Driver[S]) seedInitialStates() error {
	for _, s := range d.prob.InitialStates() {
		rec := d.c.New()
		d.prob.Compress(s, d.c.Data(rec))
		if d.prob.IsFinish(s) {
			d.recordFinish(rec, 0)
		}
		if err := d.oq.Enqueue(rec, 0); err != nil {
			return fmt.Errorf("bfs: seeding initial state: %w", err)
		}
	}
	return d.oq.FlushAll()
}

func (d *Driver[S]) recordFinish(rec state.Record, frame int64) {
	d.finishMu.Lock()
	defer d.finishMu.Unlock()
	if !d.finishFound || frame < d.finishFrame {
		d.finishFound = true
		d.finishFrame = frame
		d.finishRec = d.c.Copy(rec)
	}
}

// Run executes the outer BFS loop from the last checkpoint to either a
// finish state, a stop sentinel, or frame-group exhaustion.
func (d *Driver[S]) Run() (Result, error) {
	if d.firstGroup() == 0 && !naming.Exists(d.scheme.Open(0)) {
		if err := d.seedInitialStates(); err != nil {
			return Result{}, err
		}
	}

	for g := d.firstGroup(); g < d.cfg.MaxFrameGroups(); g++ {
		if !naming.Exists(d.scheme.Open(g)) {
			continue
		}
		found, frame, err := d.processGroup(g)
		if err != nil {
			return Result{}, fmt.Errorf("bfs: group %d: %w", g, err)
		}
		if found {
			return Result{Outcome: OutcomeFound, FinishGroup: g, FinishFrame: frame, FinishState: d.finishRec}, nil
		}

		if d.cfg.FreeSpaceThreshold > 0 {
			low, err := diskspace.Below(".", d.cfg.FreeSpaceThreshold)
			if err != nil {
				d.log.Warn().Err(err).Msg("disk space probe failed")
			} else if low {
				if err := d.reclaimDiskSpace(g); err != nil {
					return Result{}, err
				}
			}
		}

		stop, err := d.stopRequested()
		if err != nil {
			return Result{}, err
		}
		if stop {
			return Result{Outcome: OutcomeStopped}, nil
		}
	}
	return Result{Outcome: OutcomeExhausted}, nil
}

// reclaimDiskSpace runs the sort-open + filter-open maintenance pass
// in place when free space drops below the configured threshold. The
// open-queue streams are closed first; Enqueue reopens them lazily
// once the search resumes.
func (d *Driver[S]) reclaimDiskSpace(g int64) error {
	d.log.Warn().
		Int64("frame_group", g).
		Str("threshold", humanize.IBytes(uint64(d.cfg.FreeSpaceThreshold))).
		Msg("low disk space; sorting and filtering open nodes")

	if err := d.oq.CloseAll(); err != nil {
		return err
	}
	m := maintenance.New[S](d.prob, d.c, d.scheme, d.log, d.cfg.StandardBufferSize, d.cfg.FramesPerGroup)
	ramRecords := int(d.cfg.RAMSize / int64(d.recSize))
	if err := m.SortOpen(g+1, d.cfg.MaxFrameGroups(), ramRecords); err != nil {
		return err
	}
	if err := m.FilterOpen(d.cfg.MaxFrameGroups()); err != nil {
		return err
	}
	if low, err := diskspace.Below(".", d.cfg.FreeSpaceThreshold); err == nil && low {
		return fmt.Errorf("bfs: open node filter failed to produce sufficient free space")
	}
	return nil
}

// processGroup runs one outer-loop iteration for group g, returning
// whether a finish state was recorded this group.
func (d *Driver[S]) processGroup(g int64) (bool, int64, error) {
	start := time.Now()
	if err := d.oq.CloseGroup(g); err != nil {
		return false, 0, err
	}

	mergedPath := d.scheme.Merged(g)
	if !naming.Exists(mergedPath) {
		if err := d.sortAndMerge(g); err != nil {
			return false, 0, err
		}
	}

	d.cache.Reset()
	d.finishMu.Lock()
	d.finishFound = false
	d.finishMu.Unlock()

	kept, dropped, err := d.filterAndExpand(g)
	if err != nil {
		return false, 0, err
	}

	d.log.Info().
		Int64("frame_group", g).
		Int64("records_kept", kept).
		Int64("records_dropped", dropped).
		Dur("elapsed", time.Since(start)).
		Msg("frame group processed")

	naming.RemoveIfExists(d.scheme.Open(g))
	if err := naming.AtomicRename(d.scheme.Closing(g), d.scheme.Closed(g)); err != nil {
		return false, 0, err
	}
	if d.cfg.UseAll {
		if err := d.advanceAllFile(g); err != nil {
			return false, 0, err
		}
	}
	naming.RemoveIfExists(d.scheme.Merged(g))

	d.finishMu.Lock()
	found, frame := d.finishFound, d.finishFrame
	d.finishMu.Unlock()
	return found, frame, nil
}

// sortAndMerge performs a chunked in-RAM sort+dedup of open_g, then a
// k-way merge of the chunks into merged_g.
func (d *Driver[S]) sortAndMerge(g int64) error {
	chunkPaths, err := d.sortIntoChunks(g)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range chunkPaths {
			naming.RemoveIfExists(p)
		}
	}()

	mergingPath := d.scheme.Group("merging", g)
	if len(chunkPaths) == 0 {
		out, err := iostream.OpenBufferedOutput(mergingPath, d.recSize, d.cfg.MergingBufferSize, false)
		if err != nil {
			return fmt.Errorf("bfs: creating empty merged file: %w", err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	} else if len(chunkPaths) == 1 {
		return naming.AtomicRename(chunkPaths[0], d.scheme.Merged(g))
	} else {
		inputs := make([]*iostream.BufferedInput, len(chunkPaths))
		readers := make([]streamops.Reader, len(chunkPaths))
		for i, p := range chunkPaths {
			in, err := iostream.OpenBufferedInput(p, d.recSize, d.cfg.MergingBufferSize)
			if err != nil {
				return fmt.Errorf("bfs: opening chunk %s: %w", p, err)
			}
			inputs[i] = in
			readers[i] = in
		}
		out, err := iostream.OpenBufferedOutput(mergingPath, d.recSize, d.cfg.MergingBufferSize, false)
		if err != nil {
			return fmt.Errorf("bfs: opening merge output: %w", err)
		}
		if _, err := streamops.Merge(d.c, readers, out); err != nil {
			out.Close()
			return fmt.Errorf("bfs: merging chunks: %w", err)
		}
		for _, in := range inputs {
			in.Close()
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
	return naming.AtomicRename(mergingPath, d.scheme.Merged(g))
}

// sortIntoChunks streams open_g in RAM-sized chunks, sorts and dedups
// each in RAM, and writes each to its own chunk file.
func (d *Driver[S]) sortIntoChunks(g int64) ([]string, error) {
	in, err := iostream.OpenBufferedInput(d.scheme.Open(g), d.recSize, d.cfg.StandardBufferSize)
	if err != nil {
		return nil, fmt.Errorf("bfs: opening open_%d: %w", g, err)
	}
	defer in.Close()

	chunkRecords := int(d.cfg.RAMSize / int64(d.recSize))
	if chunkRecords < 1 {
		chunkRecords = 1
	}
	buf := make([]byte, 0, chunkRecords*d.recSize)

	var chunkPaths []string
	chunkIdx := 0
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n := streamops.Deduplicate(d.c, buf, len(buf)/d.recSize)
		path := d.scheme.ChunkFile(g, chunkIdx)
		out, err := iostream.OpenBufferedOutput(path, d.recSize, d.cfg.StandardBufferSize, false)
		if err != nil {
			return fmt.Errorf("bfs: opening chunk %d: %w", chunkIdx, err)
		}
		for i := 0; i < n; i++ {
			if err := out.Write(buf[i*d.recSize : (i+1)*d.recSize]); err != nil {
				out.Close()
				return err
			}
		}
		if err := out.Close(); err != nil {
			return err
		}
		chunkPaths = append(chunkPaths, path)
		chunkIdx++
		buf = buf[:0]
		return nil
	}

	for {
		rec, ok, err := in.Read()
		if err != nil {
			return nil, fmt.Errorf("bfs: reading open_%d: %w", g, err)
		}
		if !ok {
			break
		}
		buf = append(buf, rec...)
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunkPaths, nil
}

// filterAndExpand filters merged_g against every previously closed file
// (or the consolidated "all" file under UseAll), dispatching every
// surviving record to the worker pool for expansion.
func (d *Driver[S]) filterAndExpand(g int64) (kept int64, dropped int64, err error) {
	merged, err := iostream.OpenBufferedInput(d.scheme.Merged(g), d.recSize, d.cfg.MergingBufferSize)
	if err != nil {
		return 0, 0, fmt.Errorf("bfs: opening merged_%d: %w", g, err)
	}
	defer merged.Close()

	closingPath := d.scheme.Closing(g)
	closing, err := iostream.OpenBufferedOutput(closingPath, d.recSize, d.cfg.StandardBufferSize, false)
	if err != nil {
		return 0, 0, fmt.Errorf("bfs: opening closing_%d: %w", g, err)
	}

	d.pool.Start(d.cfg.Workers(), func(rec state.Record) error {
		return d.expandOne(g, rec)
	})

	onKept := func(rec state.Record) error {
		cp := d.c.Copy(rec)
		d.pool.Enqueue(cp)
		return nil
	}

	if !d.cfg.UseAll || g == 0 {
		var excludeInputs []*iostream.BufferedInput
		var excludes []streamops.Reader
		for k := int64(0); k < g; k++ {
			p := d.scheme.Closed(k)
			if !naming.Exists(p) {
				continue
			}
			in, err := iostream.OpenBufferedInput(p, d.recSize, d.cfg.AllFileBufferSize)
			if err != nil {
				closing.Close()
				return 0, 0, fmt.Errorf("bfs: opening closed_%d: %w", k, err)
			}
			excludeInputs = append(excludeInputs, in)
			excludes = append(excludes, in)
		}
		kept, dropped, err = streamops.Filter(d.c, merged, excludes, closing, onKept)
		for _, in := range excludeInputs {
			in.Close()
		}
	} else {
		_, heapInputs, excludes, aerr := d.openAllHeap(g)
		if aerr != nil {
			closing.Close()
			return 0, 0, aerr
		}
		allnewPath := d.scheme.Allnew(g)
		allnew, aerr := iostream.OpenBufferedOutput(allnewPath, d.recSize, d.cfg.AllFileBufferSize, false)
		if aerr != nil {
			closing.Close()
			return 0, 0, fmt.Errorf("bfs: opening allnew_%d: %w", g, aerr)
		}
		_, aOnly, merr := streamops.MergeTwo(d.c, merged, excludes, allnew, closing, onKept)
		for _, in := range heapInputs {
			in.Close()
		}
		kept = aOnly
		dropped = merged.Size() - aOnly
		if cerr := allnew.Close(); cerr != nil && merr == nil {
			merr = cerr
		}
		err = merr
	}

	poolErr := d.pool.Drain()
	if err == nil {
		err = poolErr
	}
	if err == nil {
		err = d.oq.FlushAll()
	}
	if cerr := closing.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return kept, dropped, err
}

// openAllHeap locates the highest existing all_k (k<g) and returns a
// heap input over it plus every closed_{k+1..g-1}. For g==0 there is no
// prior "all"; the caller handles that case by copying merged_0
// directly.
func (d *Driver[S]) openAllHeap(g int64) (allK int64, opened []*iostream.BufferedInput, readers []streamops.Reader, err error) {
	allK = -1
	for k := g - 1; k >= 0; k-- {
		if naming.Exists(d.scheme.All(k)) {
			allK = k
			break
		}
	}
	if allK >= 0 {
		in, oerr := iostream.OpenBufferedInput(d.scheme.All(allK), d.recSize, d.cfg.AllFileBufferSize)
		if oerr != nil {
			return allK, nil, nil, fmt.Errorf("bfs: opening all_%d: %w", allK, oerr)
		}
		opened = append(opened, in)
		readers = append(readers, in)
	}
	for k := allK + 1; k < g; k++ {
		p := d.scheme.Closed(k)
		if !naming.Exists(p) {
			continue
		}
		in, oerr := iostream.OpenBufferedInput(p, d.recSize, d.cfg.AllFileBufferSize)
		if oerr != nil {
			for _, o := range opened {
				o.Close()
			}
			return allK, nil, nil, fmt.Errorf("bfs: opening closed_%d: %w", k, oerr)
		}
		opened = append(opened, in)
		readers = append(readers, in)
	}
	return allK, opened, readers, nil
}

// advanceAllFile finalizes allnew_g -> all_g and deletes the previous
// all_k.
func (d *Driver[S]) advanceAllFile(g int64) error {
	if g == 0 {
		in, err := iostream.OpenBufferedInput(d.scheme.Merged(0), d.recSize, d.cfg.AllFileBufferSize)
		if err != nil {
			return fmt.Errorf("bfs: opening merged_0 for all seed: %w", err)
		}
		defer in.Close()
		out, err := iostream.OpenBufferedOutput(d.scheme.Group("allseed", 0), d.recSize, d.cfg.AllFileBufferSize, false)
		if err != nil {
			return err
		}
		for {
			rec, ok, rerr := in.Read()
			if rerr != nil {
				out.Close()
				return rerr
			}
			if !ok {
				break
			}
			if werr := out.Write(rec); werr != nil {
				out.Close()
				return werr
			}
		}
		if err := out.Close(); err != nil {
			return err
		}
		return naming.AtomicRename(d.scheme.Group("allseed", 0), d.scheme.All(0))
	}

	var prevAll int64 = -1
	for k := g - 1; k >= 0; k-- {
		if naming.Exists(d.scheme.All(k)) {
			prevAll = k
			break
		}
	}
	if err := naming.AtomicRename(d.scheme.Allnew(g), d.scheme.All(g)); err != nil {
		return err
	}
	if prevAll >= 0 {
		naming.RemoveIfExists(d.scheme.All(prevAll))
	}
	return nil
}

// expandOne is the worker-pool handler: decompress rec, test finish,
// and if not finish, expand children into the open queue via the
// recent-state cache.
func (d *Driver[S]) expandOne(g int64, rec state.Record) error {
	parentFrame := d.c.Frame(g, rec, d.cfg.FramesPerGroup)
	s := d.prob.Decompress(d.c.Data(rec))
	if d.prob.IsFinish(s) {
		d.recordFinish(rec, parentFrame)
		return nil
	}

	var expandErr error
	d.prob.Expand(s, func(child S, delay uint32, _ string) bool {
		childFrame := parentFrame + int64(delay)
		childRec := d.c.New()
		d.prob.Compress(child, d.c.Data(childRec))
		if d.cache.Observe(childRec, childFrame) {
			if err := d.oq.Enqueue(childRec, childFrame); err != nil {
				expandErr = err
				return false
			}
		}
		return true
	})
	return expandErr
}
