// Package exittrace implements the solution writer: a backward search
// over closed files that reconstructs the move path from an initial
// state to a finish state, with its own resumable checkpoint file.
package exittrace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"kwirksearch/internal/iostream"
	"kwirksearch/internal/naming"
	"kwirksearch/internal/problem"
	"kwirksearch/internal/state"
	"kwirksearch/internal/workerpool"
)

// Step is one recorded move in the reconstructed solution.
type Step struct {
	// Move is the problem's textual name for the move taken, as
	// reported by Expand; exittrace never interprets it, only stores
	// it for the solution writer.
	Move string
}

// partial is the on-disk checkpoint written before every group scan of
// the backward descent. It is serialized as JSON for a readable,
// debuggable intermediate file rather than a raw struct dump; the
// on-disk CompressedState records themselves stay raw bytes, only this
// small bookkeeping tuple is JSON.
type partial struct {
	Group     int64    `json:"group"`
	Target    []byte   `json:"target"`
	Frame     int64    `json:"frame"`
	StepCount int      `json:"step_count"`
	Steps     []string `json:"steps"`
}

// Tracer reconstructs the move path ending at a recorded finish state.
type Tracer[S any] struct {
	prob    problem.Problem[S]
	c       state.Codec
	scheme  naming.Scheme
	log     zerolog.Logger
	bufSz   int
	workers int
}

// New builds a Tracer for the given problem. workers is the number of
// goroutines used to re-expand closed states during each group scan.
func New[S any](prob problem.Problem[S], c state.Codec, scheme naming.Scheme, log zerolog.Logger, bufSz, workers int) *Tracer[S] {
	if workers < 1 {
		workers = 1
	}
	return &Tracer[S]{prob: prob, c: c, scheme: scheme, log: log, bufSz: bufSz, workers: workers}
}

func (t *Tracer[S]) partialPath() string { return t.scheme.Plain("solution-partial") }

func (t *Tracer[S]) writePartial(p partial) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("exittrace: marshal partial: %w", err)
	}
	tmp := t.partialPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("exittrace: write partial: %w", err)
	}
	return naming.AtomicRename(tmp, t.partialPath())
}

func (t *Tracer[S]) readPartial() (partial, bool, error) {
	if !naming.Exists(t.partialPath()) {
		return partial{}, false, nil
	}
	data, err := os.ReadFile(t.partialPath())
	if err != nil {
		return partial{}, false, fmt.Errorf("exittrace: read partial: %w", err)
	}
	var p partial
	if err := json.Unmarshal(data, &p); err != nil {
		return partial{}, false, fmt.Errorf("exittrace: unmarshal partial: %w", err)
	}
	return p, true, nil
}

// Partial returns the checkpointed descent state, if one exists: the
// deepest ancestor reached so far and the forward-ordered steps from
// it to the finish state. Used by the write-partial-solution command.
func (t *Tracer[S]) Partial() (target state.Record, steps []Step, ok bool, err error) {
	p, ok, err := t.readPartial()
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return state.Record(p.Target), forwardSteps(p.Steps), true, nil
}

// forwardSteps reverses the descent-ordered move list (finish-most
// first) into initial-state-to-finish order.
func forwardSteps(moves []string) []Step {
	out := make([]Step, len(moves))
	for i, m := range moves {
		out[len(moves)-1-i] = Step{Move: m}
	}
	return out
}

// found records the match for a single descent round, guarded so the
// expansion workers can race to report it. The first match wins.
type found struct {
	mu     sync.Mutex
	ok     bool
	parent state.Record
	frame  int64
	move   string
}

func (f *found) done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ok
}

func (f *found) consider(c state.Codec, parent state.Record, frame int64, move string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		f.ok = true
		f.parent = c.Copy(parent)
		f.frame = frame
		f.move = move
	}
}

// Trace descends from (targetRec, targetFrame) toward frame 0. For the
// current target it scans closed files from the group that can contain
// the target's parent downward; on a match it records the move, makes
// the parent the new target, and repeats until the target sits at
// frame 0 (an initial state). It returns the initial state reached and
// the forward-ordered move list from it to the finish state.
func (t *Tracer[S]) Trace(targetRec state.Record, targetFrame int64, framesPerGroup int) (state.Record, []Step, error) {
	target := t.c.Copy(targetRec)
	frame := targetFrame
	var moves []string
	resumeGroup := int64(-1)

	if p, ok, err := t.readPartial(); err != nil {
		return nil, nil, err
	} else if ok {
		t.log.Info().Int64("frame_group", p.Group).Msg("resuming exit trace from partial solution")
		target = state.Record(p.Target)
		frame = p.Frame
		moves = append([]string(nil), p.Steps...)
		resumeGroup = p.Group
	}

	for frame > 0 {
		// delay > 0, so the parent's frame is at most frame-1.
		g := (frame - 1) / int64(framesPerGroup)
		if resumeGroup >= 0 && resumeGroup < g {
			g = resumeGroup
		}
		resumeGroup = -1

		fr := &found{}
		for ; g >= 0 && !fr.ok; g-- {
			if err := t.writePartial(partial{Group: g, Target: []byte(target), Frame: frame, StepCount: len(moves), Steps: moves}); err != nil {
				return nil, nil, err
			}
			closedPath := t.scheme.Closed(g)
			if !naming.Exists(closedPath) {
				continue
			}
			if err := t.scanGroup(closedPath, g, framesPerGroup, target, frame, fr); err != nil {
				return nil, nil, fmt.Errorf("exittrace: scanning closed_%d: %w", g, err)
			}
		}
		if !fr.ok {
			return nil, nil, fmt.Errorf("exittrace: lost parent node: no expansion reaches the target at frame %d", frame)
		}

		t.log.Info().Int64("frame", fr.frame).Str("move", fr.move).Msg("exit trace step found")
		moves = append(moves, fr.move)
		target = fr.parent
		frame = fr.frame
	}

	if err := naming.RemoveIfExists(t.partialPath()); err != nil {
		t.log.Warn().Err(err).Msg("failed to remove partial solution checkpoint")
	}
	return target, forwardSteps(moves), nil
}

// scanGroup streams closedPath through the worker pool; each worker
// re-expands a candidate parent and checks its children against
// (target, targetFrame). The first match wins and stops the scan.
func (t *Tracer[S]) scanGroup(closedPath string, group int64, framesPerGroup int, target state.Record, targetFrame int64, fr *found) error {
	in, err := iostream.OpenBufferedInput(closedPath, len(t.c.New()), t.bufSz)
	if err != nil {
		return err
	}
	defer in.Close()

	pool := workerpool.New(1 << 12)
	pool.Start(t.workers, func(rec state.Record) error {
		if fr.done() {
			return nil
		}
		t.checkCandidate(group, framesPerGroup, rec, target, targetFrame, fr)
		return nil
	})

	for !fr.done() {
		rec, ok, rerr := in.Read()
		if rerr != nil {
			pool.Drain()
			return rerr
		}
		if !ok {
			break
		}
		pool.Enqueue(t.c.Copy(rec))
	}
	return pool.Drain()
}

// checkCandidate expands one candidate parent and reports a match to
// fr if any of its children is the target at the target frame.
func (t *Tracer[S]) checkCandidate(group int64, framesPerGroup int, rec state.Record, target state.Record, targetFrame int64, fr *found) {
	parentFrame := t.c.Frame(group, rec, framesPerGroup)
	if parentFrame >= targetFrame {
		return
	}
	s := t.prob.Decompress(t.c.Data(rec))
	t.prob.Expand(s, func(child S, delay uint32, move string) bool {
		if parentFrame+int64(delay) != targetFrame {
			return true
		}
		childRec := t.c.New()
		t.prob.Compress(child, t.c.Data(childRec))
		if t.c.Equal(childRec, target) {
			fr.consider(t.c, rec, parentFrame, move)
			return false
		}
		return true
	})
}
