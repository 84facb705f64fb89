package cmd

import (
	"context"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oop/memory-store/build-tools/pkg"
	buildcmd "github.com/oop/memory-store/build-tools/pkg/buildsys/cmd"
	"github.com/oop/memory-store/build-tools/pkg/config"
	"github.com/oop/memory-store/build-tools/pkg/deps"
)

func newFetcher(cfg *config.Config, update bool) *deps.Fetcher {
	return &deps.Fetcher{
		Client:    &http.Client{Timeout: cfg.HTTPTimeout()},
		UserAgent: cfg.HTTP.UserAgent,
		Progress:  cfg.Progress,
		Update:    update,
	}
}

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long:  `Downloads and unpacks the dependencies listed in DEPS.yml (next to tasks.star)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading config")
		root, err := pkg.GetProjectRoot()
		if err != nil {
			return err
		}

		toolCfg, err := buildcmd.LoadConfig(root)
		if err != nil {
			return err
		}

		cfg, stamps, err := deps.Load(root)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		fetcher := newFetcher(toolCfg, update)

		pkg.PrintTask("Downloading dependencies")
		changes, err := fetcher.Fetch(ctx, root, cfg, stamps)

		// save the stamps even on failure so that finished dependencies aren't downloaded again
		if sErr := deps.SaveStamps(root, stamps); sErr != nil {
			pkg.PrintError(sErr.Error())
		}

		if err != nil {
			return err
		}

		if update && len(changes) > 0 {
			pkg.PrintTask("Updating " + deps.ConfigFile)
			generated, err := cfg.WithChecksums(changes)
			if err != nil {
				return err
			}

			err = ioutil.WriteFile(filepath.Join(root, deps.ConfigFile), []byte(generated), 0660)
			if err != nil {
				return err
			}
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "Update checksums")
}
