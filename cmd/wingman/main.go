package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "wingman",
		Short:         "Wingman: chat reply suggestions backed by an LLM fallback chain",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML or TOML)")

	load := func() (*config.Config, error) { return loadConfig(configPath) }
	root.AddCommand(
		newServeCmd(load),
		newStatsCmd(load),
		newCostCmd(load),
		newCacheCmd(load),
		newBudgetCmd(load),
		newPromptCmd(load),
		newModelsCmd(load),
		newAuditCmd(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

// loadConfig reads .env into the environment, then the config file. An empty
// path yields the defaults.
func loadConfig(path string) (*config.Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
