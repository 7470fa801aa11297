package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/0xmhha/token-rollup/pkg/config"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize the configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigPathCmd(opts),
		newConfigInitCmd(opts),
	)
	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, the config file, environment variables and flags are applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return showJSON(out, cfg)
			case "yaml", "":
				return showYAML(out, cfg, configSource(opts))
			default:
				return fmt.Errorf("unknown format %q (expected yaml or json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml, json")
	return cmd
}

func showYAML(w io.Writer, cfg *config.Config, source string) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "# Effective configuration")
	fmt.Fprintf(w, "# Source: %s\n\n", source)
	_, err = w.Write(data)
	return err
}

// showJSON prints the YAML document as JSON so both formats share key names
// and duration strings.
func showJSON(w io.Writer, cfg *config.Config) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to convert config: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func configSource(opts *globalOptions) string {
	if path := config.NewLoader(opts.configPath).Path(); path != "" {
		return path
	}
	return "defaults (no config file found)"
}

func newConfigPathCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show where the configuration is read from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Configuration file search paths (in order of precedence):")
			fmt.Fprintln(out)

			candidates := []string{"./config.yaml", config.DefaultPath()}
			if opts.configPath != "" {
				candidates = []string{opts.configPath}
			} else if env := os.Getenv(config.EnvConfig); env != "" {
				candidates = []string{env}
			}

			for i, p := range candidates {
				status := "not found"
				if _, err := os.Stat(p); err == nil {
					status = "found"
				}
				fmt.Fprintf(out, "  %d. %s [%s]\n", i+1, p, status)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Active configuration:", configSource(opts))
			return nil
		},
	}
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to a file",
		Long:  "Write the default configuration to --config, or to the default path when no path is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			if err := config.Save(config.Default(), path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
