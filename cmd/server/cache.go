package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.store.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired entries\n", deleted)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Delete cached entries whose endpoint contains pattern",
		Example: `  apicache cache invalidate majestic
  apicache cache invalidate semrush.domainRank`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.store.Invalidate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries matching %q\n", deleted, args[0])
			return nil
		},
	})

	return cmd
}
