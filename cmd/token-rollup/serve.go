package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/0xmhha/token-rollup/pkg/config"
	"github.com/0xmhha/token-rollup/pkg/engine"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		listen string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Scan continuously and expose metrics",
		Long: "Run the scheduler until interrupted. Files are scanned on the configured " +
			"interval and, with --watch, shortly after they change. When a metrics " +
			"address is configured, Prometheus metrics are served on /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			e, cfg, cleanup, err := opts.openEngine(engine.Options{Registerer: reg}, func(cfg *config.Config) {
				if cmd.Flags().Changed("watch") {
					cfg.Scan.Watch = watch
				}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			if listen == "" {
				listen = cfg.Metrics.Listen
			}

			if err := e.Start(ctx); err != nil {
				return fmt.Errorf("failed to start engine: %w", err)
			}

			errCh := make(chan error, 1)
			var srv *http.Server
			if listen != "" {
				srv = newMetricsServer(listen, reg)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- fmt.Errorf("metrics server: %w", err)
					}
				}()
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on http://%s/metrics\n", listen)
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "Scanning. Press Ctrl+C to stop.")

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					runErr = errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&listen, "metrics-listen", "", "address for the Prometheus endpoint (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "rescan shortly after log files change (overrides config)")

	return cmd
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
