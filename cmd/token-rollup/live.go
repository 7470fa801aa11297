package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/0xmhha/token-rollup/pkg/config"
	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/engine"
	"github.com/0xmhha/token-rollup/pkg/monitor"
	"github.com/0xmhha/token-rollup/pkg/query"
)

func newLiveCmd(opts *globalOptions) *cobra.Command {
	var (
		q        queryOptions
		interval time.Duration
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Scan continuously and show usage as it changes",
		Long: "Run the scheduler like serve and redraw grouped usage on every refresh, " +
			"with the change since the previous refresh and the current burn rate.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, err := q.timeRange(time.Now())
			if err != nil {
				return err
			}
			dim, ok := query.ParseDimension(q.groupBy)
			if !ok {
				return fmt.Errorf("unknown dimension %q (expected agent, project, session or provider)", q.groupBy)
			}

			out := cmd.OutOrStdout()
			f, err := newFormatter(out, q.format, display.Config{Compact: q.compact})
			if err != nil {
				return err
			}

			fullScreen := isTerminal(out) && q.format == string(display.FormatTable)

			e, _, cleanup, err := opts.openEngine(engine.Options{}, func(cfg *config.Config) {
				cfg.Scan.Watch = watch
				// Terminal log lines would tear the full-screen view.
				if fullScreen && (cfg.Logging.Output == "" || cfg.Logging.Output == "stderr" || cfg.Logging.Output == "stdout") {
					cfg.Logging.Level = "error"
				}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.Start(ctx); err != nil {
				return fmt.Errorf("failed to start engine: %w", err)
			}

			m, err := monitor.New(monitor.Config{
				Querier:         e,
				Filter:          q.filter,
				Range:           r,
				RefreshInterval: interval,
			}, nil)
			if err != nil {
				return err
			}
			if err := m.Start(ctx); err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				_ = m.Close()
			}()

			if fullScreen {
				return runLiveView(ctx, stop, m, dim)
			}

			for update := range m.Updates() {
				writeLiveHeader(out, update)
				if err := f.FormatGroups(out, dim, query.GroupBy(update.Result.Rows, dim)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.filter.Agent, "agent", "", "only sessions of this agent")
	flags.StringVar(&q.filter.Project, "project", "", "only sessions of this project path")
	flags.StringVar(&q.filter.SessionID, "session", "", "only this session")
	flags.StringVar(&q.since, "since", "24h", "start of the range: duration, date or RFC 3339 time")
	flags.StringVar(&q.groupBy, "group-by", string(query.DimAgent), "sum rows by agent, project, session or provider")
	flags.StringVarP(&q.format, "format", "f", "table", "output format: table, json, simple")
	flags.BoolVar(&q.compact, "compact", false, "compact output")
	flags.DurationVar(&interval, "interval", monitor.DefaultRefreshInterval, "refresh interval")
	flags.BoolVar(&watch, "watch", true, "rescan shortly after log files change")

	return cmd
}

// runLiveView draws updates full screen until the user quits or ctx ends.
func runLiveView(ctx context.Context, stop context.CancelFunc, m *monitor.Monitor, dim query.Dimension) error {
	program := tea.NewProgram(newLiveModel(dim), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		for update := range m.Updates() {
			program.Send(updateMsg(update))
		}
	}()

	_, err := program.Run()
	stop()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func writeLiveHeader(w io.Writer, u monitor.Update) {
	fmt.Fprintf(w, "Updated %s | %d tokens | +%d since last refresh | %.0f tokens/min | +%d this session\n",
		u.Timestamp.Format("15:04:05"),
		u.Totals.Total(),
		u.Delta.TotalTokens,
		u.BurnRate,
		u.Cumulative.TotalTokens)
	if u.Result.Stale {
		fmt.Fprintf(w, "(stale, as of %s)\n", u.Result.AsOf.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
}
