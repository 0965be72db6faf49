package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulserank/apicache/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime is filled in by the root command before any subcommand runs.
type runtime struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "apicache",
		Short: "Caching and usage accounting in front of paid SEO data providers",
		Long: `apicache fronts the Majestic, DataForSEO and SEMrush APIs. Responses
are cached per request fingerprint, and every call is accounted for in
daily usage rollups that back the admin reports.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			rt.cfg = config.Load()
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				rt.cfg.LogLevel = lvl
			}
			rt.logger = newLogger(rt.cfg)
		},
	}
	root.PersistentFlags().String("log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newServeCmd(rt),
		newCacheCmd(rt),
		newUsageCmd(rt),
	)
	return root
}
