package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the delivery worker and the reconciler without the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best effort on exit

			if err := a.courier.Start(ctx); err != nil {
				return err
			}
			log.Info("worker running", "store", cfg.Store)

			for {
				select {
				case <-ctx.Done():
					log.Info("shutting down")
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
					defer shutdownCancel()
					return a.courier.Stop(shutdownCtx)
				case err := <-a.courier.TaskErrors():
					log.Warn("background task failed", "error", err)
				}
			}
		},
	}
}
