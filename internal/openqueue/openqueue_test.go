package openqueue

import (
	"os"
	"path/filepath"
	"testing"

	"kwirksearch/internal/iostream"
	"kwirksearch/internal/layout"
	"kwirksearch/internal/naming"
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

func TestEnqueueWritesToCorrectGroup(t *testing.T) {
	chdirTemp(t)
	c := state.NewCodec(layout.New(16, 10))
	scheme := naming.New("maze", 10)
	q := New(c, scheme, 10, 3, iostream.DefaultBufferBytes)

	rec := c.New()
	rec[0], rec[1] = 0, 42
	if err := q.Enqueue(rec, 15); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	if naming.Exists(scheme.Open(0)) {
		t.Error("group 0's open file should not exist; record belongs to group 1")
	}
	if !naming.Exists(scheme.Open(1)) {
		t.Fatal("group 1's open file should exist")
	}

	in, err := iostream.OpenBufferedInput(scheme.Open(1), len(c.New()), iostream.DefaultBufferBytes)
	if err != nil {
		t.Fatalf("OpenBufferedInput: %v", err)
	}
	defer in.Close()
	got, ok, err := in.Read()
	if err != nil || !ok {
		t.Fatalf("reading back record: ok=%v err=%v", ok, err)
	}
	if c.Subframe(got) != 5 {
		t.Errorf("subframe = %d, want 5 (15 mod 10)", c.Subframe(got))
	}
}

func TestEnqueueDropsOutOfRangeGroup(t *testing.T) {
	chdirTemp(t)
	c := state.NewCodec(layout.New(16, 10))
	scheme := naming.New("maze", 10)
	q := New(c, scheme, 10, 2, iostream.DefaultBufferBytes)

	rec := c.New()
	if err := q.Enqueue(rec, 999); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if naming.Exists(scheme.Open(99)) {
		t.Error("out-of-range group should never create a file")
	}
}

func TestSetNoQueueDropsWrites(t *testing.T) {
	chdirTemp(t)
	c := state.NewCodec(layout.New(16, 10))
	scheme := naming.New("maze", 10)
	q := New(c, scheme, 10, 3, iostream.DefaultBufferBytes)

	q.SetNoQueue(0)
	rec := c.New()
	if err := q.Enqueue(rec, 5); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if naming.Exists(scheme.Open(0)) {
		t.Error("no_queue group should never create a file")
	}
}

func TestCloseGroupReleasesStream(t *testing.T) {
	chdirTemp(t)
	c := state.NewCodec(layout.New(16, 10))
	scheme := naming.New("maze", 10)
	q := New(c, scheme, 10, 3, iostream.DefaultBufferBytes)

	rec := c.New()
	if err := q.Enqueue(rec, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.CloseGroup(0); err != nil {
		t.Fatalf("CloseGroup: %v", err)
	}
	if !naming.Exists(filepath.Join(scheme.Open(0))) {
		t.Fatal("open file should exist on disk after CloseGroup")
	}
	// CloseGroup on an already-closed group is a no-op.
	if err := q.CloseGroup(0); err != nil {
		t.Fatalf("second CloseGroup: %v", err)
	}
}
