package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/courier/api"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, the delivery worker and the reconciler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best effort on exit

			c := a.courier
			handler := api.NewHandler(c.Store(), c.Webhooks(), c.Deliveries(), c.DeadLetters(), c.Dispatcher(), log)

			mux := http.NewServeMux()
			mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
			mux.Handle("/", handler)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			if err := c.Start(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("admin API listening", "addr", cfg.Addr, "store", cfg.Store)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}

			log.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()

			return errors.Join(
				serveErr,
				srv.Shutdown(shutdownCtx),
				c.Stop(shutdownCtx),
			)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides COURIER_ADDR)")
	return cmd
}
