package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pulserank/apicache/internal/usage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type usageReport struct {
	Timeframe usage.Timeframe      `json:"timeframe" yaml:"timeframe"`
	Summary   usage.Summary        `json:"summary" yaml:"summary"`
	Services  []usage.ServiceUsage `json:"services" yaml:"services"`
}

func newUsageCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect provider usage",
	}

	var (
		timeframe string
		output    string
	)
	report := &cobra.Command{
		Use:   "report",
		Short: "Print the usage summary and per-endpoint breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			tf := usage.ParseTimeframe(timeframe)
			summary, err := a.query.UsageSummary(ctx, tf)
			if err != nil {
				return err
			}
			services, err := a.query.ServiceUsageStats(ctx, tf)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), output, usageReport{Timeframe: tf, Summary: summary, Services: services})
		},
	}
	report.Flags().StringVarP(&timeframe, "timeframe", "t", "7d", "window: 1d, 7d, 30d or 90d")
	report.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	cmd.AddCommand(report)
	return cmd
}

func writeReport(w io.Writer, format string, r usageReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(r)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	s := r.Summary
	fmt.Fprintf(w, "Usage %s (%s to %s)\n", r.Timeframe.Label,
		r.Timeframe.StartDate.Format("2006-01-02 15:04"), r.Timeframe.EndDate.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "calls=%d credits=%.2f cost=$%.2f users=%d active=%d hit_rate=%.1f%% error_rate=%.1f%%\n\n",
		s.TotalCalls, s.TotalCreditsUsed, s.TotalCost, s.TotalUsers, s.ActiveUsers, s.CacheHitRate*100, s.ErrorRate*100)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tENDPOINT\tCALLS\tHITS\tERRORS\tCREDITS\tCOST\tAVG MS")
	for _, svc := range r.Services {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.2f\t%.4f\t%.0f\n",
			svc.ServiceName, svc.Endpoint, svc.TotalCalls, svc.CacheHits, svc.Errors,
			svc.TotalCreditsUsed, svc.TotalCost, svc.AverageResponseTime)
	}
	return tw.Flush()
}
