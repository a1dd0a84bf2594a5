package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/krishamaze/arin-bot-v2/pkg/audit"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

func newAuditCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the generation audit log",
	}
	cmd.AddCommand(
		newAuditSearchCmd(load),
		newAuditShowCmd(load),
		newAuditStatsCmd(load),
		newAuditCleanupCmd(load),
	)
	return cmd
}

func openAuditLogger(ctx context.Context, load configLoader) (*audit.Logger, func(), error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.New(ctx, st.DB(), st.Driver(), cfg.Audit, nil)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return l, func() {
		_ = l.Close()
		_ = st.Close()
	}, nil
}

func newAuditSearchCmd(load configLoader) *cobra.Command {
	var (
		opts   models.AuditQueryOpts
		since  string
		failed bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}
			opts.FailedOnly = failed

			l, done, err := openAuditLogger(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer done()

			entries, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "filter by user id")
	cmd.Flags().StringVar(&opts.ConversationID, "conversation", "", "filter by conversation id")
	cmd.Flags().StringVar(&opts.Model, "model", "", "filter by model")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&failed, "failed", false, "only generations that produced no response")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max entries to return")
	return cmd
}

func newAuditShowCmd(load configLoader) *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}
			l, done, err := openAuditLogger(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer done()

			entries, err := l.Query(cmd.Context(), models.AuditQueryOpts{RequestID: requestID, Limit: 1})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entry found for that request ID.")
				return nil
			}
			fmt.Fprint(out, formatAuditEntry(entries[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show generation and failure counts by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, done, err := openAuditLogger(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer done()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, done, err := openAuditLogger(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer done()

			deleted, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-7s %-20s %-8s %8s %8s %-19s\n",
		"REQUEST ID", "KIND", "MODEL", "RESULT", "LATENCY", "TOKENS", "TIME")
	b.WriteString(strings.Repeat("-", 113) + "\n")
	for _, e := range entries {
		result := "ok"
		switch {
		case e.Failed():
			result = "failed"
		case e.Fallback:
			result = "fallback"
		}
		fmt.Fprintf(&b, "%-36s %-7s %-20s %-8s %6dms %8d %-19s\n",
			e.RequestID, e.Kind, defaultStr(e.Model, "(none)"), result,
			e.LatencyMs, e.TotalTokens,
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditEntry(e models.AuditEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request ID:    %s\n", e.RequestID)
	fmt.Fprintf(&b, "Kind:          %s\n", e.Kind)
	fmt.Fprintf(&b, "User:          %s\n", e.UserID)
	if e.ConversationID != "" {
		fmt.Fprintf(&b, "Conversation:  %s\n", e.ConversationID)
	}
	fmt.Fprintf(&b, "Prompt:        %s\n", defaultStr(e.PromptVersion, "(none)"))
	fmt.Fprintf(&b, "Model:         %s (%s)\n", defaultStr(e.Model, "(none)"), defaultStr(e.Provider, "(none)"))
	fmt.Fprintf(&b, "Fallback:      %t\n", e.Fallback)
	if e.RepairStage != "" {
		fmt.Fprintf(&b, "Repair:        %s\n", e.RepairStage)
	}
	fmt.Fprintf(&b, "Latency:       %dms\n", e.LatencyMs)
	fmt.Fprintf(&b, "Tokens:        %d prompt / %d completion / %d total\n",
		e.PromptTokens, e.CompletionTokens, e.TotalTokens)
	fmt.Fprintf(&b, "Time:          %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	if e.Error != "" {
		fmt.Fprintf(&b, "Error:         %s\n", e.Error)
	}
	if len(e.Attempts) > 0 {
		b.WriteString("\n--- Attempts ---\n")
		for _, a := range e.Attempts {
			fmt.Fprintf(&b, "%-24s #%d %-9s", a.Model, a.Number, a.Outcome)
			if a.StatusCode != 0 {
				fmt.Fprintf(&b, " %d", a.StatusCode)
			}
			if a.Error != "" {
				fmt.Fprintf(&b, " %s", a.Error)
			}
			b.WriteString("\n")
		}
	}
	if e.Prompt != "" {
		fmt.Fprintf(&b, "\n--- Prompt ---\n%s\n", e.Prompt)
	}
	if e.Response != "" {
		fmt.Fprintf(&b, "\n--- Response ---\n%s\n", e.Response)
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %8s %8s\n", "MODEL", "DAY", "COUNT", "FAILED")
	b.WriteString(strings.Repeat("-", 56) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-25s %-12s %8d %8d\n", defaultStr(s.Model, "(none)"), s.Day, s.Count, s.Failures)
	}
	return b.String()
}
