package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
	"github.com/krishamaze/arin-bot-v2/pkg/tracker"
)

// openTracker opens the usage tables for the reporting commands.
func openTracker(ctx context.Context, cfg *config.Config) (*tracker.SQLTracker, func(), error) {
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	tr, err := tracker.New(ctx, st.DB(), st.Driver())
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return tr, func() { _ = st.Close() }, nil
}

func newStatsCmd(load configLoader) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage by user and model",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			summaries, err := tr.Summary(ctx, userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tMODEL\tREQUESTS\tFALLBACKS\tPROMPT\tCOMPLETION\tCACHED\tTOTAL\tAVG LATENCY")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%dms\n",
					s.UserID, s.Model, s.RequestCount, s.FallbackCount, s.TotalPrompt, s.TotalCompletion,
					s.TotalCached, s.TotalTokens, s.AvgLatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	return cmd
}
