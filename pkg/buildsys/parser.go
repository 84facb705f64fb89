package buildsys

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	properties   Properties
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
	failure      error
}

// fail remembers the first error raised by a builtin. Starlark flattens errors into an EvalError so this is
// the only way to hand sentinel errors back to RunScript's caller.
func (c *parserCtx) fail(err error) error {
	if c.failure == nil {
		c.failure = err
	}
	return err
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		case *Task:
			result = append(result, value.Short)
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	cmd.Args = make([]*syntax.Word, len(parts)-len(envVars))
	for a, arg := range parts[len(envVars):] {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) {
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart
		if strings.ContainsAny(encodedValue, " $'") {
			wordPart = &syntax.SglQuoted{Value: encodedValue}
		} else {
			wordPart = &syntax.Lit{Value: encodedValue}
		}

		cmd.Args[a] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	return cmd, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func shellCmdFromParts(parts starlark.Tuple, parser *syntax.Parser, printer *syntax.Printer, base string) (string, error) {
	cmd, err := processCmdParts(parts, parser, base)
	if err != nil {
		return "", err
	}

	buffer := strings.Builder{}
	err = printer.Print(&buffer, cmd)
	if err != nil {
		return "", err
	}

	return buffer.String(), nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var finalizedBy *starlark.List
	var skipIfExists *starlark.List
	var inputs *starlark.List
	var outputs *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List

	task := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "finalized_by?", &finalizedBy, "base?", &task.Base,
		"skip_if_exists?", &skipIfExists, "inputs?", &inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.New("tasks can only be declared inside configure()")
	}

	if task.Short == "" {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	if task.Base == "" {
		task.Base = "."
	}
	task.Base = normalizePath(ctx, task.Base)

	task.Deps, err = starlarkIterable2stringSlice(deps, "deps")
	if err != nil {
		return nil, err
	}

	task.FinalizedBy, err = starlarkIterable2stringSlice(finalizedBy, "finalized_by")
	if err != nil {
		return nil, err
	}

	for _, name := range task.FinalizedBy {
		if name == task.Short {
			return nil, eris.Errorf("task %s can't finalize itself", name)
		}
	}

	task.SkipIfExists, err = starlarkIterable2stringSlice(skipIfExists, "skip_if_exists")
	if err != nil {
		return nil, err
	}

	task.Inputs, err = starlarkIterable2stringSlice(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	task.Outputs, err = starlarkIterable2stringSlice(outputs, "outputs")
	if err != nil {
		return nil, err
	}

	task.Env, err = starlarkStringDict(env, "env")
	if err != nil {
		return nil, err
	}

	task.Cmds = make([]TaskCmd, 0)
	if cmds != nil {
		printer := syntax.NewPrinter(syntax.Minify(true))
		parser := syntax.NewParser()
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		idx := 0
		for iter.Next(&item) {
			switch value := item.(type) {
			case starlark.String:
				task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: value.GoString()})
			case starlark.Tuple, *starlark.List:
				parts := make(starlark.Tuple, 0, value.(starlark.Sequence).Len())
				subIter := value.(starlark.Iterable).Iterate()
				var subItem starlark.Value
				for subIter.Next(&subItem) {
					parts = append(parts, subItem)
				}
				subIter.Done()

				content, err := shellCmdFromParts(parts, parser, printer, task.Base)
				if err != nil {
					return nil, eris.Wrapf(err, "failed to process command #%d", idx)
				}

				task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: content})
			case *Task:
				task.Cmds = append(task.Cmds, TaskCmdTaskRef{Task: value})
			case Action:
				task.Cmds = append(task.Cmds, TaskCmdAction{Action: value})
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists, tasks and actions are valid",
					fn.Name(), item.Type())
			}

			idx++
		}
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	if !task.Hidden {
		ctx.tasks = append(ctx.tasks, task)
	}
	return task, nil
}

// scriptError attaches the script traceback to err. When a builtin recorded a failure, that failure becomes
// the cause and only the call frames are added since the traceback already ends with its message.
func scriptError(threadCtx *parserCtx, err error, msg string) error {
	evalError, isEval := err.(*starlark.EvalError)

	if threadCtx.failure != nil {
		if !isEval {
			return eris.Wrap(threadCtx.failure, msg)
		}
		return eris.Wrapf(threadCtx.failure, "%s:\n%s", msg, strings.TrimRight(evalError.CallStack.String(), "\n"))
	}

	if isEval {
		return eris.Errorf("%s:\n%s", msg, evalError.Backtrace())
	}
	return eris.Errorf("%s:\n%s", msg, err.Error())
}

func validateTaskRefs(tasks TaskList) error {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		task := tasks[name]
		for _, dep := range task.Deps {
			if _, ok := tasks[dep]; !ok {
				return eris.Errorf("task %s depends on unknown task %s", name, dep)
			}
		}

		for _, fin := range task.FinalizedBy {
			if _, ok := tasks[fin]; !ok {
				return eris.Errorf("task %s is finalized by unknown task %s", name, fin)
			}
		}
	}

	return nil
}

// RunScript executes a starlark script and returns the declared options. If doConfigure is true, the script's
// configure function is called and the declared tasks are collected and returned.
//
// Errors raised by builtins (like property() for a missing property) are returned wrapped so that callers can
// use eris.Is() on them.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, properties Properties, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	if options == nil {
		options = map[string]string{}
	}

	if properties == nil {
		properties = Properties{}
	}

	builtins := starlark.StringDict{
		"OS":            starlark.String(runtime.GOOS),
		"ARCH":          starlark.String(runtime.GOARCH),
		"info":          starlark.NewBuiltin("info", starInfo),
		"warn":          starlark.NewBuiltin("warn", starWarn),
		"error":         starlark.NewBuiltin("error", starError),
		"resolve_path":  starlark.NewBuiltin("resolve_path", resolvePath),
		"option":        starlark.NewBuiltin("option", option),
		"getenv":        starlark.NewBuiltin("getenv", getenv),
		"setenv":        starlark.NewBuiltin("setenv", setenv),
		"prepend_path":  starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":     starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":         starlark.NewBuiltin("isdir", starIsdir),
		"isfile":        starlark.NewBuiltin("isfile", starIsfile),
		"execute":       starlark.NewBuiltin("execute", starExec),
		"task":          starlark.NewBuiltin("task", task),
		"has_property":  starlark.NewBuiltin("has_property", hasProperty),
		"property":      starlark.NewBuiltin("property", property),
		"find_property": starlark.NewBuiltin("find_property", findProperty),
		"shadow_jar":    starlark.NewBuiltin("shadow_jar", shadowJar),
		"publication":   starlark.NewBuiltin("publication", publication),
		"maven_local":   starlark.NewBuiltin("maven_local", mavenLocal),
		"maven":         starlark.NewBuiltin("maven", mavenRemote),
		"maven_publish": starlark.NewBuiltin("maven_publish", mavenPublish),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		properties:   properties,
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		return nil, nil, scriptError(&threadCtx, err, "failed to execute "+simplifyPath(&threadCtx, filename))
	}

	tasks := TaskList{}
	if doConfigure {
		configure, ok := globals["configure"]
		if !ok {
			return nil, nil, eris.Errorf("%s did not declare a configure function", simplifyPath(&threadCtx, filename))
		}

		configureFunc, ok := configure.(starlark.Callable)
		if !ok {
			return nil, nil, eris.Errorf("%s did declare a configure value but it's not a function", simplifyPath(&threadCtx, filename))
		}

		threadCtx.initPhase = false
		_, err = starlark.Call(thread, configureFunc, starlark.Tuple{}, []starlark.Tuple{})
		if err != nil {
			return nil, nil, scriptError(&threadCtx, err, "failed configure call in "+simplifyPath(&threadCtx, filename))
		}

		for _, task := range threadCtx.tasks {
			if _, dup := tasks[task.Short]; dup {
				return nil, nil, eris.Errorf("task %s was declared twice", task.Short)
			}
			tasks[task.Short] = task

			for name, value := range threadCtx.envOverrides {
				_, present := task.Env[name]
				if !present {
					task.Env[name] = value
				}
			}
		}

		err = validateTaskRefs(tasks)
		if err != nil {
			return nil, nil, err
		}
	}

	return tasks, threadCtx.options, nil
}

// Parse runs the task script and returns the declared tasks
func Parse(ctx context.Context, filename, projectRoot string, options map[string]string, properties Properties) (TaskList, error) {
	tasks, _, err := RunScript(ctx, filename, projectRoot, options, properties, true)
	return tasks, err
}
