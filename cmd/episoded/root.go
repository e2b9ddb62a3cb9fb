package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "episoded",
		Short:         "Episode download daemon",
		Long:          "Watches a release feed, drives aria2 downloads, and moves finished episodes into the library.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newOnceCommand())

	return rootCmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: scheduled feed ingestion, reconciliation, and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func newOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single fetch and reconcile cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce()
		},
	}
}
