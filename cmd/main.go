package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oop/memory-store/build-tools/pkg/buildsys/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "tool",
	Short: "Build tools for memory-store",
	Long: `This command bundles the tools that are used to build and publish memory-store.
This includes the task runner, a dependency downloader and a few cross-platform shell helpers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(cmd.RootCmd)
}

// Execute runs the root command. Errors are printed by cobra (or logged by the task command).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
