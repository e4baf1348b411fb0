// Command kwirksearch is the CLI surface over the frontier engine and
// BFS driver. Subcommand routing is handled by cobra; argument parsing
// and help text polish are intentionally minimal, so every command
// does the least cobra asks for and defers everything else to the
// internal packages.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kwirksearch/internal/bfs"
	"kwirksearch/internal/exittrace"
	"kwirksearch/internal/kwirk"
	"kwirksearch/internal/layout"
	"kwirksearch/internal/maintenance"
	"kwirksearch/internal/naming"
	"kwirksearch/internal/runconfig"
	"kwirksearch/internal/state"
)

// Process exit codes returned by run.
const (
	exitOK       = 0
	exitStop     = 1
	exitNotFound = 2
	exitError    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	prob := kwirk.New()
	l := layout.New(prob.CompressedBits(), prob.FramesPerGroup())
	c := state.NewCodec(l)
	scheme := naming.New("kwirk", prob.FramesPerGroup())
	cfg := runconfig.Load(prob.FramesPerGroup(), prob.MaxFrames())

	root := &cobra.Command{
		Use:   "kwirksearch",
		Short: "External-memory BFS solver for Kwirk-like tile puzzles",
	}

	var exitCode int

	root.AddCommand(searchCmd(prob, c, scheme, cfg, log, &exitCode))
	root.AddCommand(dumpCmd(prob, c, scheme, cfg, log))
	root.AddCommand(sampleCmd(prob, c, scheme, cfg, log))
	root.AddCommand(compareCmd(prob, c, scheme, cfg, log))
	root.AddCommand(verifyCmd(prob, c, scheme, cfg, log))
	root.AddCommand(packOpenCmd(prob, c, scheme, cfg, log))
	root.AddCommand(sortOpenCmd(prob, c, scheme, cfg, log))
	root.AddCommand(filterOpenCmd(prob, c, scheme, cfg, log))
	root.AddCommand(seqFilterOpenCmd(prob, c, scheme, cfg, log))
	root.AddCommand(regenerateOpenCmd(prob, c, scheme, cfg, log))
	root.AddCommand(createAllCmd(prob, c, scheme, cfg, log))
	root.AddCommand(findExitCmd(prob, c, scheme, cfg, log, &exitCode))
	root.AddCommand(convertCmd(prob, c, scheme, cfg, log))
	root.AddCommand(unpackCmd(prob, c, scheme, cfg, log))
	root.AddCommand(countCmd(prob, c, scheme, cfg, log))
	root.AddCommand(writePartialSolutionCmd(prob, c, scheme, cfg, log))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	if exitCode != 0 {
		return exitCode
	}
	return exitOK
}

// parseRange parses the trailing "[range]" command-line arguments: zero
// args means the full [0, maxGroups) range, one arg pins a single
// group, two args set an explicit [first, last) range.
func parseRange(args []string, maxGroups int64) (first, last int64, err error) {
	switch len(args) {
	case 0:
		return 0, maxGroups, nil
	case 1:
		var g int64
		if _, err := fmt.Sscanf(args[0], "%d", &g); err != nil {
			return 0, 0, fmt.Errorf("invalid frame group %q: %w", args[0], err)
		}
		return g, g + 1, nil
	case 2:
		var f, l int64
		if _, err := fmt.Sscanf(args[0], "%d", &f); err != nil {
			return 0, 0, fmt.Errorf("invalid frame group %q: %w", args[0], err)
		}
		if _, err := fmt.Sscanf(args[1], "%d", &l); err != nil {
			return 0, 0, fmt.Errorf("invalid frame group %q: %w", args[1], err)
		}
		return f, l, nil
	default:
		return 0, 0, fmt.Errorf("too many arguments")
	}
}

func searchCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "search [max-group]",
		Short: "Sort, filter and expand open nodes until a finish state is found",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var maxGroup int64
				if _, err := fmt.Sscanf(args[0], "%d", &maxGroup); err != nil {
					return fmt.Errorf("invalid max frame group %q: %w", args[0], err)
				}
				if capped := maxGroup * int64(cfg.FramesPerGroup); capped < cfg.MaxFrames {
					cfg.MaxFrames = capped
				}
			}
			driver, err := bfs.NewDriver[kwirk.State](prob, c, scheme, cfg, log)
			if err != nil {
				return err
			}
			result, err := driver.Run()
			if err != nil {
				return err
			}
			switch result.Outcome {
			case bfs.OutcomeFound:
				log.Info().Int64("frame", result.FinishFrame).Msg("finish state found, tracing exit path")
				tracer := exittrace.New[kwirk.State](prob, c, scheme, log, cfg.AllFileBufferSize, cfg.Workers())
				origin, steps, err := tracer.Trace(result.FinishState, result.FinishFrame, cfg.FramesPerGroup)
				if err != nil {
					return err
				}
				return writeSolution(prob, c, scheme, origin, steps)
			case bfs.OutcomeStopped:
				*exitCode = exitStop
			case bfs.OutcomeExhausted:
				*exitCode = exitNotFound
			}
			return nil
		},
	}
}

func dumpCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <group>",
		Short: "Print all states in the open or closed file for a frame group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var g int64
			fmt.Sscanf(args[0], "%d", &g)
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			out, err := m.Dump(g)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func sampleCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sample <group>",
		Short: "Print one uniformly random state from a frame group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var g int64
			fmt.Sscanf(args[0], "%d", &g)
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			out, err := m.Sample(g)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func compareCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <file1> <file2>",
		Short: "Count duplicates and interweaves between two sorted files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			res, err := m.Compare(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d states\n%s: %d states\n%d duplicate states\n%d interweaves\n",
				args[0], res.Size1, args[1], res.Size2, res.Duplicates, res.Interweaves)
			return nil
		},
	}
}

func verifyCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <filename>",
		Short: "Check a file is sorted, deduplicated and has valid subframes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			res, err := m.Verify(args[0], cfg.FramesPerGroup)
			if err != nil {
				return err
			}
			fmt.Printf("sorted=%v deduplicated=%v\n", res.Sorted, res.Deduplicated)
			return nil
		},
	}
}

func packOpenCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "pack-open [range]",
		Short: "Dedup each chunk of open node files in the given range",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.PackOpen(first, last, int(cfg.RAMSize/int64(layout.New(prob.CompressedBits(), prob.FramesPerGroup()).RecordSize)))
		},
	}
}

func sortOpenCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sort-open [range]",
		Short: "Sort and dedup open node files in the given range, highest group first",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.SortOpen(first, last, int(cfg.RAMSize/int64(layout.New(prob.CompressedBits(), prob.FramesPerGroup()).RecordSize)))
		},
	}
}

func filterOpenCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "filter-open",
		Short: "Filter every open node file in place against closed/all files",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.FilterOpen(cfg.MaxFrameGroups())
		},
	}
}

func seqFilterOpenCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seq-filter-open [range]",
		Short: "Sort, dedup and filter open node files one group at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.SeqFilterOpen(first, last, int(cfg.RAMSize/int64(layout.New(prob.CompressedBits(), prob.FramesPerGroup()).RecordSize)))
		},
	}
}

func regenerateOpenCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate-open [range]",
		Short: "Re-expand closed nodes to repopulate missing open node files",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			driver, err := bfs.NewDriver[kwirk.State](prob, c, scheme, cfg, log)
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.RegenerateOpen(driver.OpenQueue(), first, last, cfg.MaxFrameGroups(), cfg.FramesPerGroup)
		},
	}
}

func createAllCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "create-all",
		Short: "Build the consolidated all file from every closed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.AllFileBufferSize, cfg.FramesPerGroup)
			return m.CreateAll(cfg.MaxFrameGroups())
		},
	}
}

func findExitCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "find-exit [range]",
		Short: "Scan existing files for a finish state and trace its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			res, err := m.FindExit(first, last)
			if err != nil {
				return err
			}
			if !res.Found {
				*exitCode = exitNotFound
				return nil
			}
			tracer := exittrace.New[kwirk.State](prob, c, scheme, log, cfg.AllFileBufferSize, cfg.Workers())
			origin, steps, err := tracer.Trace(res.State, res.Frame, cfg.FramesPerGroup)
			if err != nil {
				return err
			}
			return writeSolution(prob, c, scheme, origin, steps)
		},
	}
}

func convertCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "convert [range]",
		Short: "Convert legacy per-frame files to frame-group files",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.Convert(first, last, cfg.FramesPerGroup)
		},
	}
}

func unpackCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack [range]",
		Short: "Split frame-group files back into individual per-frame files",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			return m.Unpack(first, last, cfg.FramesPerGroup)
		},
	}
}

func countCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "count [range]",
		Short: "Count records per subframe in closed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, last, err := parseRange(args, cfg.MaxFrameGroups())
			if err != nil {
				return err
			}
			m := maintenance.New[kwirk.State](prob, c, scheme, log, cfg.StandardBufferSize, cfg.FramesPerGroup)
			counts, err := m.Count(first, last, cfg.FramesPerGroup)
			if err != nil {
				return err
			}
			for g := first; g < last; g++ {
				cs, ok := counts[g]
				if !ok {
					continue
				}
				for i, n := range cs {
					if n > 0 {
						fmt.Printf("Frame %d: %d\n", g*int64(cfg.FramesPerGroup)+int64(i), n)
					}
				}
			}
			return nil
		},
	}
}

func writePartialSolutionCmd(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, cfg runconfig.Config, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "write-partial-solution",
		Short: "Write out the current exit-trace partial solution",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracer := exittrace.New[kwirk.State](prob, c, scheme, log, cfg.AllFileBufferSize, cfg.Workers())
			target, steps, ok, err := tracer.Partial()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("write-partial-solution: no partial exit trace in progress")
			}
			return writeSolution(prob, c, scheme, target, steps)
		},
	}
}

// writeSolution replays the recorded moves from the traced origin
// state, writing each move name followed by a textual visualization of
// the state it leads to.
func writeSolution(prob kwirk.Maze, c state.Codec, scheme naming.Scheme, origin state.Record, steps []exittrace.Step) error {
	var sb strings.Builder
	cur := prob.Decompress(c.Data(origin))
	for _, step := range steps {
		var next kwirk.State
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
			return fmt.Errorf("writeSolution: recorded move %q is not legal from the replayed state", step.Move)
		}
		sb.WriteString(step.Move)
		sb.WriteByte('\n')
		sb.WriteString(prob.StateToString(next))
		cur = next
	}
	if !prob.IsFinish(cur) && len(steps) > 0 {
		return fmt.Errorf("writeSolution: replayed moves do not end on a finish state")
	}
	return os.WriteFile(scheme.Plain("solution"), []byte(sb.String()), 0644)
}
