package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krishamaze/arin-bot-v2/pkg/prompt"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

func newPromptCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Inspect system prompts",
	}

	showCmd := &cobra.Command{
		Use:       "show [wingman|chat]",
		Short:     "Print the prompt the server would use",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{prompt.Wingman, prompt.Chat},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := prompt.Wingman
			if len(args) == 1 {
				name = args[0]
			}
			cfg, err := load()
			if err != nil {
				return err
			}

			var versions prompt.Versions
			if cfg.Prompt.Source == prompt.SourceDatabase {
				st, err := store.Open(cmd.Context(), cfg.Database)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				versions = st
			}

			p := prompt.NewLoader(cfg.Prompt, versions, nil).Load(cmd.Context(), name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s (version %s, source %s)\n\n", p.Name, p.Version, p.Source)
			fmt.Fprintln(out, p.Content)
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}
