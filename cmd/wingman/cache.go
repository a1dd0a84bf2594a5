package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cachesqlite "github.com/krishamaze/arin-bot-v2/pkg/cache/sqlite"
)

func newCacheCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect persisted prompt cache handles",
	}

	// open returns nil when handles are kept in memory by the server.
	open := func(cmd *cobra.Command) (*cachesqlite.Store, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if cfg.Cache.Store != "sqlite" {
			fmt.Fprintf(cmd.OutOrStdout(), "Cache store is %q; handles live in the server process.\n", cfg.Cache.Store)
			return nil, nil
		}
		return cachesqlite.New(cfg.Cache.Path)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show handle counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil || c == nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entries: %d\nExpired: %d\n", stats.Entries, stats.Expired)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache handle",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil || c == nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache handles cleared.")
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired cache handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil || c == nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Prune(time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired handles.\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, pruneCmd)
	return cmd
}
