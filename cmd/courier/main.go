// Command courier runs the webhook delivery service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "courier",
		Short:         "Courier webhook delivery service",
		Long:          "Courier delivers signed, tenant-scoped webhooks with retries and a dead-letter queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.store, "store", "", "store backend: memory, postgres or mongo (overrides COURIER_STORE)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides COURIER_LOG_LEVEL)")

	rootCmd.AddCommand(
		newServeCmd(&flags),
		newWorkerCmd(&flags),
		newMigrateCmd(&flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}
