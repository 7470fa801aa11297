package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/engine"
	"github.com/0xmhha/token-rollup/pkg/identity"
)

func newIdentityCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage session to agent attribution",
		Long: "Identities map provider session ids to an agent name and a project path. " +
			"They may be recorded at any time; queries apply them to buckets that were " +
			"written before the identity existed.",
	}

	cmd.AddCommand(
		newIdentitySetCmd(opts),
		newIdentityListCmd(opts),
		newIdentityDeleteCmd(opts),
	)
	return cmd
}

func newIdentitySetCmd(opts *globalOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "set <session-id> <agent>",
		Short: "Attribute a session to an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := opts.openEngine(engine.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			id := identity.SessionIdentity{
				SessionID:   args[0],
				AgentName:   args[1],
				ProjectPath: project,
				LastSeenAt:  time.Now().UTC(),
			}
			if err := e.PutIdentity(cmd.Context(), id); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Session %s attributed to %s\n", id.SessionID, id.AgentName)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project path of the session")
	return cmd
}

func newIdentityListCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored identities",
		Args:  cobra.NoArgs,
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

			ids, err := e.Identities().List(cmd.Context())
			if err != nil {
				return err
			}
			return f.FormatIdentities(out, ids)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: table, json, simple")
	return cmd
}

func newIdentityDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Remove the identity of a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := opts.openEngine(engine.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.DeleteIdentity(cmd.Context(), args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Identity of session %s deleted\n", args[0])
			return nil
		},
	}
}
