package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/krishamaze/arin-bot-v2/pkg/budget"
)

func newBudgetCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show token budgets and usage",
	}

	var userID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.Budget.Enabled {
				fmt.Fprintln(out, "Budget enforcement is disabled.")
				return nil
			}

			ctx := cmd.Context()
			tr, done, err := openTracker(ctx, cfg)
			if err != nil {
				return err
			}
			defer done()

			statuses, err := budget.New(cfg.Budget.Policies, tr).Status(ctx, userID)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No budget policies apply to this user.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tMODEL\tPERIOD\tMAX TOKENS\tUSED\tREMAINING\tRESETS")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					s.Policy.UserID, defaultStr(s.Policy.Model, "*"), s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining,
					s.ResetAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&userID, "user", "", "user id to report on")
	_ = statusCmd.MarkFlagRequired("user")

	cmd.AddCommand(statusCmd)
	return cmd
}
