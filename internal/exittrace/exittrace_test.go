package exittrace

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"kwirksearch/internal/bfs"
	"kwirksearch/internal/iostream"
	"kwirksearch/internal/kwirk"
	"kwirksearch/internal/layout"
	"kwirksearch/internal/naming"
	"kwirksearch/internal/runconfig"
	"kwirksearch/internal/state"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })
}

// runToFinish drives a full kwirk search to completion, returning the
// result, codec, and scheme a Tracer needs.
func runToFinish(t *testing.T) (bfs.Result, state.Codec, naming.Scheme, kwirk.Maze) {
	t.Helper()
	prob := kwirk.New()
	c := state.NewCodec(layout.New(prob.CompressedBits(), prob.FramesPerGroup()))
	scheme := naming.New("kwirk", prob.FramesPerGroup())
	cfg := runconfig.Load(prob.FramesPerGroup(), prob.MaxFrames())
	cfg.Threads = 2
	cfg.RAMSize = 1 << 16

	driver, err := bfs.NewDriver[kwirk.State](prob, c, scheme, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	result, err := driver.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != bfs.OutcomeFound {
		t.Fatalf("Run outcome = %v, want OutcomeFound", result.Outcome)
	}
	return result, c, scheme, prob
}

func TestTraceReconstructsPath(t *testing.T) {
	chdirTemp(t)
	result, c, scheme, prob := runToFinish(t)

	tracer := New[kwirk.State](prob, c, scheme, zerolog.Nop(), iostream.DefaultBufferBytes, 2)
	origin, steps, err := tracer.Trace(result.FinishState, result.FinishFrame, prob.FramesPerGroup())
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if int64(len(steps)) != result.FinishFrame {
		t.Errorf("got %d steps, want %d (one per frame of delay)", len(steps), result.FinishFrame)
	}

	// The traced origin must be one of the problem's initial states.
	cur := prob.Decompress(c.Data(origin))
	var isInitial bool
	for _, st := range prob.InitialStates() {
		if st == cur {
			isInitial = true
		}
	}
	if !isInitial {
		t.Fatalf("traced origin %+v is not an initial state", cur)
	}

	// Replay the recorded moves from the origin and confirm they land
	// on a finish tile.
	for _, step := range steps {
		next := cur
		found := false
		prob.Expand(cur, func(child kwirk.State, delay uint32, move string) bool {
			if move == step.Move {
				next = child
				found = true
				return false
			}
			return true
		})
		if !found {
			t.Fatalf("recorded move %q is not legal from %+v", step.Move, cur)
		}
		cur = next
	}
	if !prob.IsFinish(cur) {
		t.Error("replaying the traced steps from the origin should reach a finish tile")
	}
}

func TestTraceRemovesPartialCheckpointOnSuccess(t *testing.T) {
	chdirTemp(t)
	result, c, scheme, prob := runToFinish(t)

	tracer := New[kwirk.State](prob, c, scheme, zerolog.Nop(), iostream.DefaultBufferBytes, 2)
	if _, _, err := tracer.Trace(result.FinishState, result.FinishFrame, prob.FramesPerGroup()); err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if naming.Exists(scheme.Plain("solution-partial")) {
		t.Error("partial checkpoint should be removed after a successful trace")
	}
}
