package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alecgard/paygate/internal/metering"
)

var (
	usageTenant string
	usageTool   string
	usageSince  time.Duration
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize metered tool calls for a tenant",
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageTenant, "tenant", "", "tenant ID")
	usageCmd.Flags().StringVar(&usageTool, "tool", "", "only count calls to this tool")
	usageCmd.Flags().DurationVar(&usageSince, "since", 0, "only count calls newer than this, e.g. 24h")
	_ = usageCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	q := metering.UsageQuery{TenantID: usageTenant, Tool: usageTool}
	if usageSince > 0 {
		q.From = time.Now().Add(-usageSince)
	}
	summary, err := st.usage.GetSummary(ctx, q)
	if err != nil {
		return err
	}
	return printUsage(os.Stdout, q, summary)
}

func printUsage(out io.Writer, q metering.UsageQuery, s *metering.UsageSummary) error {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s %s\n", bold("Tenant:"), q.TenantID)
	if q.Tool != "" {
		fmt.Fprintf(out, "%s %s\n", bold("Tool:"), q.Tool)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total calls\t%d\n", s.TotalCalls)
	fmt.Fprintf(w, "Paid calls\t%d\n", s.PaidCalls)
	fmt.Fprintf(w, "Errors\t%d\n", s.ErrorCount)
	fmt.Fprintf(w, "Avg latency\t%.1f ms\n", s.AvgLatencyMs)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(s.AmountByNetwork) == 0 {
		return nil
	}
	fmt.Fprintln(out, bold("Settled (smallest units):"))
	ids := make([]string, 0, len(s.AmountByNetwork))
	for id := range s.AmountByNetwork {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\t%s\n", id, s.AmountByNetwork[id])
	}
	return w.Flush()
}
