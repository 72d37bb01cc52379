// Package cmd contains the hoshi CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hoshi",
	Short: "hoshi - knowledge-grounded assistant over your document repository",
	Long: `hoshi answers questions grounded in your organization's documents.

It mirrors a remote document repository into a managed file-search index
(hoshi sync), then answers questions with citations drawn from both the
repository's native search and the index (hoshi ask, hoshi chat).

Running hoshi without a subcommand starts interactive chat.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
