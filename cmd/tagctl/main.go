package main

import (
	"fmt"
	"os"

	"github.com/benvon/smart-tagger/cmd/tagctl/commands"
	"github.com/benvon/smart-tagger/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:           "tagctl",
		Short:         "Batch tool for Smart Tagger projects",
		Long:          "CLI tool for loading, editing and saving dataset tags outside the API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool(commands.VerboseFlag, false, "Log storage and batch events to stderr")

	rootCmd.AddCommand(commands.NewLoadCmd(config.Load))
	rootCmd.AddCommand(commands.NewApplyCmd(config.Load))
	rootCmd.AddCommand(commands.NewStatsCmd(config.Load))
	rootCmd.AddCommand(commands.NewMigrateCmd(config.Load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
