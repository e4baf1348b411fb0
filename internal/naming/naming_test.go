package naming

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSchemeGroupToken(t *testing.T) {
	s10 := New("kwirk", 10)
	if got := s10.Open(3); got != "kwirk-open3x.bin" {
		t.Errorf("FPG=10 Open(3) = %q, want kwirk-open3x.bin", got)
	}

	s5 := New("kwirk", 5)
	if got := s5.Open(3); got != "kwirk-openg3.bin" {
		t.Errorf("FPG=5 Open(3) = %q, want kwirk-openg3.bin", got)
	}
}

func TestSchemeFileNames(t *testing.T) {
	s := New("maze", 1)
	cases := []struct {
		got, want string
	}{
		{s.Open(0), "maze-openg0.bin"},
		{s.Closed(2), "maze-closedg2.bin"},
		{s.Merged(2), "maze-mergedg2.bin"},
		{s.Closing(2), "maze-closingg2.bin"},
		{s.All(2), "maze-allg2.bin"},
		{s.StopFile(), "maze-stop.txt"},
		{s.Plain(""), "maze.bin"},
		{s.ChunkFile(1, 3), "maze-chunkg1-3.bin"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestAtomicRenameAndExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tmp")
	dst := filepath.Join(dir, "dst.bin")

	if Exists(dst) {
		t.Fatal("dst should not exist yet")
	}
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := AtomicRename(src, dst); err != nil {
		t.Fatalf("AtomicRename: %v", err)
	}
	if !Exists(dst) {
		t.Error("dst should exist after rename")
	}
	if Exists(src) {
		t.Error("src should be gone after rename")
	}
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "maybe.bin")

	if err := RemoveIfExists(p); err != nil {
		t.Errorf("RemoveIfExists on missing file should be a no-op, got %v", err)
	}
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveIfExists(p); err != nil {
		t.Errorf("RemoveIfExists: %v", err)
	}
	if Exists(p) {
		t.Error("file should be removed")
	}
}
