package cmd

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oop/memory-store/build-tools/pkg"
	"github.com/oop/memory-store/build-tools/pkg/bundle"
)

var packJarCmd = &cobra.Command{
	Use:   "pack-jar archive_path content_directory [dependency.jar...]",
	Short: "Packs the content of the passed directory and jars into a reproducible .jar archive",
	Long: `Pass the path of the .jar file that should be generated, a directory with
the compiled classes and optionally jars whose content should be merged into the archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.New("Expected at least 2 arguments!")
		}

		mainClass, err := cmd.Flags().GetString("main-class")
		if err != nil {
			return err
		}

		mergeServices, err := cmd.Flags().GetBool("merge-service-files")
		if err != nil {
			return err
		}

		dest, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		spec := bundle.Spec{
			ArchiveName:       filepath.Base(dest),
			Destination:       filepath.Dir(dest),
			Sources:           []string{args[1]},
			Jars:              args[2:],
			Manifest:          map[string]string{},
			MergeServiceFiles: mergeServices,
		}
		if mainClass != "" {
			spec.Manifest["Main-Class"] = mainClass
		}

		result, err := bundle.Bundle(context.Background(), spec)
		if err != nil {
			return err
		}

		pkg.PrintSubtask(filepath.Base(result.Path) + " " + result.SHA256)
		return nil
	},
}

func init() {
	packJarCmd.Flags().String("main-class", "", "Main-Class attribute for the manifest")
	packJarCmd.Flags().Bool("merge-service-files", false, "merge META-INF/services files instead of keeping the first one")
	rootCmd.AddCommand(packJarCmd)
}
