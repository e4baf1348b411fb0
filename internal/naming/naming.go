// Package naming implements the on-disk file naming scheme and the
// atomic-rename helpers the checkpoint design depends on: every
// resumable stage writes to a temporary name and renames into place
// only on success.
package naming

import (
	"fmt"
	"os"
)

// GroupFormat selects the group-token convention: "<n>x" when frames
// per group is 10, "g<n>" otherwise. The caller picks one based on its
// configured grouping.
type GroupFormat int

const (
	// GroupFormatG renders group tokens as "g<n>".
	GroupFormatG GroupFormat = iota
	// GroupFormatX renders group tokens as "<n>x", matching FPG==10.
	GroupFormatX
)

// Scheme names every file the pipeline reads or writes for one problem.
type Scheme struct {
	Problem string
	Format  GroupFormat
}

// New returns a Scheme for the given problem name. fpg is the
// problem's FramesPerGroup; when it equals 10, group tokens render as
// "<n>x", otherwise "g<n>".
func New(problem string, fpg int) Scheme {
	f := GroupFormatG
	if fpg == 10 {
		f = GroupFormatX
	}
	return Scheme{Problem: problem, Format: f}
}

func (s Scheme) groupToken(g int64) string {
	switch s.Format {
	case GroupFormatX:
		return fmt.Sprintf("%dx", g)
	default:
		return fmt.Sprintf("g%d", g)
	}
}

// Plain returns "<problem>-<stage>.bin", used for files with no group
// component (e.g. the solution file and the exit trace's
// partial-solution checkpoint).
func (s Scheme) Plain(stage string) string {
	if stage == "" {
		return fmt.Sprintf("%s.bin", s.Problem)
	}
	return fmt.Sprintf("%s-%s.bin", s.Problem, stage)
}

// Group returns "<problem>-<stage><groupToken>.bin".
func (s Scheme) Group(stage string, g int64) string {
	return fmt.Sprintf("%s-%s%s.bin", s.Problem, stage, s.groupToken(g))
}

// Chunk returns "<problem>-<stage><groupToken>-<chunk>.bin".
func (s Scheme) Chunk(stage string, g int64, chunk int) string {
	return fmt.Sprintf("%s-%s%s-%d.bin", s.Problem, stage, s.groupToken(g), chunk)
}

// StopFile returns "<problem>-stop.txt", the graceful-shutdown sentinel.
func (s Scheme) StopFile() string {
	return fmt.Sprintf("%s-stop.txt", s.Problem)
}

// Open, Closed, Merged, Closing, Filtering, All, Allnew, Openpacked,
// Converting and ChunkFile name the per-group stage files the pipeline reads and
// writes for one frame group.
func (s Scheme) Open(g int64) string             { return s.Group("open", g) }
func (s Scheme) Closed(g int64) string           { return s.Group("closed", g) }
func (s Scheme) Merged(g int64) string           { return s.Group("merged", g) }
func (s Scheme) Closing(g int64) string          { return s.Group("closing", g) }
func (s Scheme) Filtering(g int64) string        { return s.Group("filtering", g) }
func (s Scheme) All(g int64) string              { return s.Group("all", g) }
func (s Scheme) Allnew(g int64) string           { return s.Group("allnew", g) }
func (s Scheme) Openpacked(g int64) string       { return s.Group("openpacked", g) }
func (s Scheme) Converting(g int64) string       { return s.Group("converting", g) }
func (s Scheme) ChunkFile(g int64, i int) string { return s.Chunk("chunk", g, i) }

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AtomicRename renames src to dst. Both must live in the same directory
// for the rename to be atomic on common filesystems.
func AtomicRename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("naming: rename %s -> %s: %w", src, dst, err)
	}
	return nil
}

// RemoveIfExists deletes path, tolerating its absence.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("naming: remove %s: %w", path, err)
	}
	return nil
}
