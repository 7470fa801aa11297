package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/0xmhha/token-rollup/pkg/config"
	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/engine"
	"github.com/0xmhha/token-rollup/pkg/logger"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "token-rollup",
		Short: "Aggregate AI agent token usage into time buckets",
		Long: "token-rollup reads the usage logs of AI coding agents incrementally, " +
			"aggregates token consumption per session into 30-minute buckets and " +
			"serves queries attributed to agents and projects.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to configuration file")
	flags.StringVar(&opts.dbPath, "db", "", "path to the database file (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newServeCmd(opts),
		newLiveCmd(opts),
		newScanCmd(opts),
		newQueryCmd(opts),
		newFilesCmd(opts),
		newIdentityCmd(opts),
		newConfigCmd(opts),
	)

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("token-rollup %s\n", version))

	return root
}

// loadConfig loads the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(o.configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.dbPath != "" {
		cfg.Storage.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.logLevel)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openEngine loads the configuration, applies the command's overrides and
// builds an engine. The returned cleanup closes the engine and the log
// output.
func (o *globalOptions) openEngine(opts engine.Options, overrides ...func(*config.Config)) (*engine.Engine, *config.Config, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	log, closer, err := logger.Open(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}

	e, err := engine.New(cfg, log, opts)
	if err != nil {
		_ = closer.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	cleanup := func() {
		if err := e.Close(); err != nil {
			log.Error("failed to close engine", "error", err)
		}
		_ = closer.Close()
	}
	return e, cfg, cleanup, nil
}

// newFormatter returns the formatter for the --format flag. Without a flag,
// terminals get tables and pipes get JSON.
func newFormatter(w io.Writer, format string, base display.Config) (display.Formatter, error) {
	if format == "" {
		format = string(display.FormatJSON)
		if isTerminal(w) {
			format = string(display.FormatTable)
		}
	}

	f, err := display.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	base.Format = f
	return display.New(base), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
