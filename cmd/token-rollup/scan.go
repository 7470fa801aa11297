package main

import (
	"github.com/spf13/cobra"

	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/engine"
)

func newScanCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := opts.openEngine(engine.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := e.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			f, err := newFormatter(cmd.OutOrStdout(), format, display.Config{})
			if err != nil {
				return err
			}
			return f.FormatReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: table, json, simple")
	return cmd
}
