package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/0xmhha/token-rollup/pkg/discovery"
	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/engine"
	"github.com/0xmhha/token-rollup/pkg/store"
)

func newFilesCmd(opts *globalOptions) *cobra.Command {
	var (
		format   string
		discover bool
	)

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List tracked log files and their scan progress",
		Long: "List the byte offset stored for every scanned log file. With --discover, " +
			"the configured roots are walked as well, so files that were never scanned " +
			"are listed with offset 0 and sizes are current.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			f, err := newFormatter(out, format, display.Config{})
			if err != nil {
				return err
			}

			e, _, cleanup, err := opts.openEngine(engine.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			states, err := e.FileStates(cmd.Context())
			if err != nil {
				return err
			}

			if discover {
				files, err := e.Discover(cmd.Context())
				if err != nil {
					return err
				}
				states = mergeDiscovered(states, files)
			}

			return f.FormatFileStates(out, states)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: table, json, simple")
	cmd.Flags().BoolVar(&discover, "discover", false, "include files found under the configured roots")

	return cmd
}

// mergeDiscovered lists every discovered file with its stored progress and
// its current size, followed by stored files that are no longer on disk.
func mergeDiscovered(states []store.FileState, files []discovery.LogFile) []store.FileState {
	known := lo.KeyBy(states, func(s store.FileState) string { return s.Path })

	merged := lo.Map(files, func(lf discovery.LogFile, _ int) store.FileState {
		s, ok := known[lf.Path]
		if !ok {
			s = store.FileState{Path: lf.Path, Provider: lf.Provider}
		}
		s.FileSize = lf.Size
		return s
	})

	onDisk := lo.SliceToMap(files, func(lf discovery.LogFile) (string, struct{}) {
		return lf.Path, struct{}{}
	})
	gone := lo.Filter(states, func(s store.FileState, _ int) bool {
		_, ok := onDisk[s.Path]
		return !ok
	})

	return append(merged, gone...)
}
