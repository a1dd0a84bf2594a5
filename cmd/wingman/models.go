package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/krishamaze/arin-bot-v2/pkg/router"
)

func newModelsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Print the resolved model chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			rt, err := router.New(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "models version %s", cfg.Models.Version)
			if cfg.Models.Updated != "" {
				fmt.Fprintf(out, " (updated %s)", cfg.Models.Updated)
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAIN\t#\tPROVIDER\tMODEL\tTEMPERATURE\tMAX TOKENS")
			for _, name := range rt.Names() {
				chain, err := rt.Chain(name)
				if err != nil {
					return err
				}
				for i, m := range chain {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\n",
						name, i+1, m.Provider, m.Model, strconv.FormatFloat(m.Temperature, 'f', -1, 64), m.MaxOutputTokens)
				}
			}
			return w.Flush()
		},
	}
}
