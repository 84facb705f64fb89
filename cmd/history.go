package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oop/memory-store/build-tools/pkg"
	buildcmd "github.com/oop/memory-store/build-tools/pkg/buildsys/cmd"
	"github.com/oop/memory-store/build-tools/pkg/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists the publications made from this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := pkg.GetProjectRoot()
		if err != nil {
			return err
		}

		cfg, err := buildcmd.LoadConfig(root)
		if err != nil {
			return err
		}

		if cfg.State.Path == "" {
			pkg.PrintError("The publication history is disabled (state.path is empty)")
			return nil
		}

		statePath := cfg.State.Path
		if !filepath.IsAbs(statePath) {
			statePath = filepath.Join(root, statePath)
		}

		history, err := storage.Open(statePath)
		if err != nil {
			return err
		}
		defer history.Close()

		records, err := history.List(context.Background())
		if err != nil {
			return err
		}

		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		return printHistory(os.Stdout, records, limit)
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "l", 0, "only show the newest n entries")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(out io.Writer, records []*storage.Publication, limit int) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No publications recorded.")
		return nil
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCOORDINATES\tREPOSITORY\tSHA256")
	for _, rec := range records {
		sum := rec.SHA256
		if len(sum) > 12 {
			sum = sum[:12]
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Time.Local().Format(time.RFC3339), rec.Coordinates, rec.Repository, sum)
	}

	return w.Flush()
}
