package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/tracker"
)

func newCostCmd(load configLoader) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated costs by provider and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			tr, done, err := openTracker(ctx, cfg)
			if err != nil {
				return err
			}
			defer done()

			reports, err := tr.CostReport(ctx, sinceTime)
			if err != nil {
				return err
			}
			tracker.ApplyPricing(reports, cfg.Pricing)

			fmt.Fprint(cmd.OutOrStdout(), formatCostTable(reports))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatCostTable(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-25s %8s %12s %10s %10s\n",
		"PROVIDER", "MODEL", "REQUESTS", "TOKENS", "CACHED", "EST. COST")
	b.WriteString(strings.Repeat("-", 80) + "\n")

	var totalCost float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-10s %-25s %8d %12d %10d $%9.4f\n",
			defaultStr(string(r.Provider), "(none)"),
			r.Model, r.RequestCount, r.TotalTokens, r.CachedTokens, r.EstimatedCost)
		totalCost += r.EstimatedCost
	}
	b.WriteString(strings.Repeat("-", 80) + "\n")
	fmt.Fprintf(&b, "%69s $%9.4f\n", "TOTAL:", totalCost)
	return b.String()
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
