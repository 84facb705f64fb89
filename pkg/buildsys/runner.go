package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	rctx, ok := ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
	if !ok {
		return &runtimeCtx{runTasks: map[string]bool{}}
	}
	return rctx
}

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	names := make([]string, 0, len(task.Env))
	for name := range task.Env {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, task.Env[name]))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

// HelperBinary is the command that provides the mv, rm and mkdir subcommands used inside task scripts.
// Defaults to the running executable.
var HelperBinary = ""

func helperBinary() string {
	if HelperBinary != "" {
		return HelperBinary
	}

	self, err := os.Executable()
	if err != nil {
		return "tool"
	}
	return self
}

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			args = append([]string{helperBinary()}, args...)
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	pctx := &parserCtx{
		filepath:    filepath.Join(getRuntimeCtx(ctx).projectRoot, "tasks.star"),
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = normalizePath(pctx, base, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.ContainsAny(match, "*?[") {
				result = append(result, filepath.FromSlash(match))
			}
		}
	}
	return result, nil
}

// RunTask executes the given task
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, dryRun, force bool) error {
	return RunTasks(ctx, projectRoot, []string{task}, tasks, dryRun, force)
}

// RunTasks executes the given tasks in order. Each task (including dependencies and finalizers) runs at most
// once per call.
func RunTasks(ctx context.Context, projectRoot string, names []string, tasks TaskList, dryRun, force bool) error {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return err
	}

	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runTasks:    make(map[string]bool),
	}
	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)

	for _, name := range names {
		taskMeta, found := tasks[name]
		if !found {
			return eris.Errorf("Task %s not found", name)
		}

		err := runTaskInternal(ctx, taskMeta, tasks, dryRun, force, true)
		if err != nil {
			return err
		}
	}

	return nil
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, dryRun, force, canSkip bool) error {
	err := runTaskBody(ctx, task, tasks, dryRun, force, canSkip)
	if err != nil {
		return err
	}

	// finalizers only run once the finalized task is done (or up-to-date)
	for _, name := range task.FinalizedBy {
		finalizer, ok := tasks[name]
		if !ok {
			return eris.Errorf("Task %s not found", name)
		}

		log(ctx).Debug().
			Str("task", task.Short).
			Msgf("finalized by %s", name)

		err = runTaskInternal(ctx, finalizer, tasks, dryRun, false, true)
		if err != nil {
			return eris.Wrapf(err, "Task %s failed in its finalizer %s", task.Short, name)
		}
	}

	return nil
}

func runTaskBody(ctx context.Context, task *Task, tasks TaskList, dryRun, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := tasks[dep]
		if !ok {
			return eris.Errorf("Task %s not found", dep)
		}

		err := runTaskInternal(ctx, depTask, tasks, dryRun, false, true)
		if err != nil {
			return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	if canSkip && !force {
		skip, err := checkSkipFiles(ctx, task)
		if err != nil {
			return err
		}

		if !skip {
			skip, err = checkUpToDate(ctx, task)
			if err != nil {
				return err
			}
		}

		if skip {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	err := runCmds(ctx, task, tasks, dryRun, force)
	if err != nil {
		return err
	}

	rctx.runTasks[task.Short] = true
	return nil
}

func checkSkipFiles(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skipIfExists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, nil
	}

	return false, nil
}

func checkUpToDate(ctx context.Context, task *Task) (bool, error) {
	var newestInput time.Time
	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}

		if mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if oldestOutput.After(newestInput) {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func runCmds(ctx context.Context, task *Task, tasks TaskList, dryRun, force bool) error {
	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(getTaskEnv(task)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		if action := item.ToAction(); action != nil {
			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(action.Describe())

			if !dryRun {
				err = action.Run(ctx)
				if err != nil {
					return eris.Wrapf(err, "Task %s failed", task.Short)
				}
			}
			continue
		}

		subTask, err := item.ToTask()
		if err != nil {
			return eris.Wrap(err, "failed to retrieve task ref")
		}

		if subTask != nil {
			err = runTaskInternal(ctx, subTask, tasks, dryRun, force, true)
			if err != nil {
				return err
			}
			continue
		}

		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		for _, stm := range stmts {
			strBuffer.Reset()
			err = printer.Print(&strBuffer, stm)
			if err != nil {
				return eris.Wrap(err, "failed to print shell statement")
			}

			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(strBuffer.String())

			if !dryRun {
				err = runner.Run(ctx, stm)
				if err != nil {
					return eris.Wrapf(err, "Task %s failed", task.Short)
				}

				if runner.Exited() {
					return nil
				}
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
