// Package runconfig loads the search engine's tuning constants from
// environment variables, with documented defaults for each.
package runconfig

import (
	"os"
	"strconv"
)

// Config holds every tunable the BFS driver and frontier engine
// consult. Field names mirror the corresponding environment variables.
type Config struct {
	// RAMSize bounds the combined cache + sort-buffer working set, in
	// bytes.
	RAMSize int64

	// Threads is the total OS-thread count; one thread drives the
	// pipeline, the rest run the worker pool.
	Threads int

	// NodesPerHash sizes how many records share one hash bucket's
	// budget in the recent-state cache.
	NodesPerHash int

	// StandardBufferSize, AllFileBufferSize and MergingBufferSize
	// size the BufferedInput/BufferedOutput in-RAM buffers for the
	// stream roles that need distinct tuning.
	StandardBufferSize int
	AllFileBufferSize  int
	MergingBufferSize  int

	// FreeSpaceThreshold, in bytes, triggers the BFS driver's
	// sort-open + filter-open maintenance pass when free disk space
	// drops below it.
	FreeSpaceThreshold int64

	// UseAll maintains a consolidated "all" file and folds each newly
	// merged group into it with a two-way merge, instead of filtering
	// against every closed file separately.
	UseAll bool

	// FramesPerGroup is the number of frames per frame group; 1
	// disables frame grouping.
	FramesPerGroup int

	// MaxFrames bounds the search depth; the driver allocates
	// bookkeeping for ceil(MaxFrames/FramesPerGroup) frame groups.
	MaxFrames int64
}

const (
	defaultRAMSize            = 256 << 20 // 256MB
	defaultThreads            = 4
	defaultNodesPerHash       = 4
	defaultStandardBufferSize = 1 << 20 // 1MB worth of records
	defaultAllFileBufferSize  = 1 << 20
	defaultMergingBufferSize  = 1 << 20
	defaultFreeSpaceThreshold = 1 << 30 // 1GB
	defaultUseAll             = false
)

// Load reads Config from the environment, falling back to the documented
// defaults above. framesPerGroup and maxFrames come from the Problem,
// not the environment, since they are intrinsic to the problem's record
// layout.
func Load(framesPerGroup int, maxFrames int64) Config {
	return Config{
		RAMSize:            getInt64("RAM_SIZE", defaultRAMSize),
		Threads:            getInt("THREADS", defaultThreads),
		NodesPerHash:       getInt("NODES_PER_HASH", defaultNodesPerHash),
		StandardBufferSize: getInt("STANDARD_BUFFER_SIZE", defaultStandardBufferSize),
		AllFileBufferSize:  getInt("ALL_FILE_BUFFER_SIZE", defaultAllFileBufferSize),
		MergingBufferSize:  getInt("MERGING_BUFFER_SIZE", defaultMergingBufferSize),
		FreeSpaceThreshold: getInt64("FREE_SPACE_THRESHOLD", defaultFreeSpaceThreshold),
		UseAll:             getBool("USE_ALL", defaultUseAll),
		FramesPerGroup:     framesPerGroup,
		MaxFrames:          maxFrames,
	}
}

// Workers returns Threads-1, the worker-pool size, and never less than 1.
func (c Config) Workers() int {
	if c.Threads <= 1 {
		return 1
	}
	return c.Threads - 1
}

// MaxFrameGroups returns ceil(MaxFrames/FramesPerGroup), the number of
// frame groups the driver allocates bookkeeping for.
func (c Config) MaxFrameGroups() int64 {
	fpg := int64(c.FramesPerGroup)
	if fpg <= 0 {
		fpg = 1
	}
	return (c.MaxFrames + fpg - 1) / fpg
}

func getInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getInt64(name string, def int64) int64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
