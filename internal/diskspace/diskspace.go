// Package diskspace probes free disk space on the filesystem holding the
// working directory. The BFS driver consults it between frame groups to
// decide when to run the in-place sort-open/filter-open maintenance
// pass.
package diskspace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeBytes returns the number of bytes available to an unprivileged
// process on the filesystem containing dir.
func FreeBytes(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("diskspace: statfs %s: %w", dir, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// Below reports whether the free space on the filesystem containing dir
// has fallen below threshold bytes.
func Below(dir string, threshold int64) (bool, error) {
	free, err := FreeBytes(dir)
	if err != nil {
		return false, err
	}
	return free < threshold, nil
}
