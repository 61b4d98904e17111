// Package cmd implements the sitetemplateci command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "sitetemplateci",
		Short: "Export and import site templates as LAR archives over REST.",
		Long: `sitetemplateci serves a small REST API that lets CI pipelines export a
site template's pages to a LAR archive and import an archive into a site
template. Both run as background tasks that callers poll for status.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newTokenCmd(&cfgFile))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
