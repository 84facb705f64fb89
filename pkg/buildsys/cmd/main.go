// Package cmd implements the task command for the buildsys package
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oop/memory-store/build-tools/pkg"
	"github.com/oop/memory-store/build-tools/pkg/buildsys"
	"github.com/oop/memory-store/build-tools/pkg/config"
	"github.com/oop/memory-store/build-tools/pkg/maven"
	"github.com/oop/memory-store/build-tools/pkg/storage"
)

var RootCmd = &cobra.Command{
	Use:   "task [tasks...] [option=value...]",
	Short: "Simple build system for memory-store",
	Long: `This command parses the first tasks.star file it finds and executes the given tasks.

Project properties are passed with -P name=value or through MEMSTORE_PROP_<name> environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		propArgs, err := cmd.Flags().GetStringArray("property")
		if err != nil {
			return err
		}

		logJSON, err := cmd.Flags().GetBool("log-json")
		if err != nil {
			return err
		}

		projectRoot, err := pkg.GetProjectRoot()
		if err != nil {
			return err
		}

		cfg, err := LoadConfig(projectRoot)
		if err != nil {
			return err
		}
		if logJSON {
			cfg.Log.JSON = true
		}

		logger := NewLogger(cfg, os.Stderr)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		ctx = buildsys.WithLogger(ctx, &logger)

		err = runTasks(ctx, cfg, projectRoot, args, propArgs, dryRun, force)
		if err != nil {
			logger.Error().Err(err).Msg("Build failed")
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return err
		}

		return nil
	},
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	RootCmd.Flags().StringArrayP("property", "P", nil, "set a project property (name=value)")
	RootCmd.Flags().Bool("log-json", false, "print log messages as JSON")
}

// LoadConfig reads the configuration file in the project root (if present) and the MEMSTORE_* environment variables
func LoadConfig(projectRoot string) (*config.Config, error) {
	return config.Load(filepath.Join(projectRoot, config.DefaultFile))
}

// NewLogger builds the logger described by cfg
func NewLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		writer := NewConsoleWriter()
		writer.Out = out
		logger = zerolog.New(writer)
	}

	return logger.Level(cfg.LogLevel())
}

// NewServices prepares the services used by built-in actions. The returned cleanup function has to be called once
// the build is done.
func NewServices(cfg *config.Config, projectRoot string, withHistory bool) (*buildsys.Services, func(), error) {
	localRepo := cfg.Repository.Local
	if localRepo == "" {
		var err error
		localRepo, err = maven.DefaultLocalPath()
		if err != nil {
			return nil, nil, err
		}
	}

	services := &buildsys.Services{
		Client:          &http.Client{Timeout: cfg.HTTPTimeout()},
		UserAgent:       cfg.HTTP.UserAgent,
		LocalRepository: localRepo,
		Progress:        cfg.Progress,
	}

	cleanup := func() {}
	if withHistory && cfg.State.Path != "" {
		statePath := cfg.State.Path
		if !filepath.IsAbs(statePath) {
			statePath = filepath.Join(projectRoot, statePath)
		}

		history, err := storage.Open(statePath)
		if err != nil {
			return nil, nil, err
		}

		services.History = history
		cleanup = func() {
			history.Close()
		}
	}

	return services, cleanup, nil
}

func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

func runTasks(ctx context.Context, cfg *config.Config, projectRoot string, args, propArgs []string, dryRun, force bool) error {
	taskArgs, options := splitArgs(args)

	// malformed properties are fatal before the script even runs
	properties, err := buildsys.ParseProperties(propArgs, os.Environ())
	if err != nil {
		return err
	}

	services, cleanup, err := NewServices(cfg, projectRoot, !dryRun && len(taskArgs) > 0)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx = buildsys.WithServices(ctx, services)

	taskPath := filepath.Join(projectRoot, pkg.TaskFile)
	taskList, err := buildsys.Parse(ctx, taskPath, projectRoot, options, properties)
	if err != nil {
		return eris.Wrap(err, "failed to parse tasks")
	}

	if len(taskArgs) == 0 {
		printTaskList(os.Stdout, taskList)
		return nil
	}

	return buildsys.RunTasks(ctx, projectRoot, taskArgs, taskList, dryRun, force)
}

func printTaskList(out io.Writer, taskList buildsys.TaskList) {
	fmt.Fprintln(out, "Available tasks:")
	maxNameLen := 0
	sortedNames := make([]string, 0, len(taskList))
	for _, task := range taskList {
		if len(task.Short) > maxNameLen {
			maxNameLen = len(task.Short)
		}

		sortedNames = append(sortedNames, task.Short)
	}

	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Fprintf(out, lineFmt, name+":", taskList[name].Desc)
	}
}
