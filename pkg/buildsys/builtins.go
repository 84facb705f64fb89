package buildsys

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type builtinFunc = func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// messageBuiltin wraps a reporter taking a single message argument (info, warn, error).
func messageBuiltin(report func(thread *starlark.Thread, message string) error) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
			return nil, err
		}

		if err := report(thread, message); err != nil {
			return nil, err
		}
		return starlark.None, nil
	}
}

var (
	starInfo = messageBuiltin(func(thread *starlark.Thread, message string) error {
		info(thread, "%s", message)
		return nil
	})
	starWarn = messageBuiltin(func(thread *starlark.Thread, message string) error {
		warn(thread, "%s", message)
		return nil
	})
	starError = messageBuiltin(func(thread *starlark.Thread, message string) error {
		return getCtx(thread).fail(eris.New(message))
	})
)

func rawPath(value starlark.Value) (string, bool) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), true
	case StarlarkPath:
		return string(value), true
	}
	return "", false
}

// resolvePath joins its arguments relative to the script directory. With base, the result is made
// relative to that directory instead.
func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	ctx := getCtx(thread)
	segments := make([]string, len(args))
	for idx, arg := range args {
		segment, ok := rawPath(arg)
		if !ok {
			return nil, eris.Errorf("%s: argument %d is a %s, want string or path", fn.Name(), idx+1, arg.Type())
		}
		segments[idx] = segment
	}
	result := normalizePath(ctx, segments...)

	for _, kv := range kwargs {
		if name := kv[0].(starlark.String).GoString(); name != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), name)
		}

		base, err := starlarkPathArg(ctx, kv[1], "base")
		if err != nil {
			return nil, err
		}

		result, err = filepath.Rel(base, result)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: failed to make %s relative", fn.Name(), result)
		}
	}

	return StarlarkPath(result), nil
}

// lookupEnv prefers values assigned through setenv() over the process environment.
func (ctx *parserCtx) lookupEnv(key string) string {
	if value, ok := ctx.envOverrides[key]; ok {
		return value
	}
	return os.Getenv(key)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback string

	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
		return nil, err
	}

	value := getCtx(thread).lookupEnv(key)
	if value == "" {
		value = fallback
	}
	return starlark.String(value), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string

	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.True, nil
}

// prependPathDir puts a directory in front of PATH for every task command and execute() call.
func prependPathDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir starlark.Value

	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dir); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	dirPath, err := starlarkPathArg(ctx, dir, "dir")
	if err != nil {
		return nil, err
	}

	searchPath := dirPath
	if current := ctx.lookupEnv("PATH"); current != "" {
		searchPath += string(os.PathListSeparator) + current
	}
	ctx.envOverrides["PATH"] = searchPath

	return starlark.String(searchPath), nil
}

func (ctx *parserCtx) loadYaml(path string) (interface{}, error) {
	if doc, ok := ctx.yamlCache[path]; ok {
		return doc, nil
	}

	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open file %s", path)
	}

	var doc interface{}
	if err = yaml.Unmarshal(content, &doc); err != nil {
		return nil, eris.Wrapf(err, "failed to parse file %s", path)
	}

	ctx.yamlCache[path] = doc
	return doc, nil
}

// lookupYaml follows a dotted key through mappings and lists. Numeric segments index lists. Missing keys
// yield nil.
func lookupYaml(doc interface{}, key string) (interface{}, error) {
	current := doc
	walked := make([]string, 0)

	for _, segment := range strings.Split(key, ".") {
		switch node := current.(type) {
		case nil:
			return nil, nil
		case map[string]interface{}:
			current = node[segment]
		case map[interface{}]interface{}:
			current = node[segment]
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, nil
			}
			current = node[idx]
		default:
			return nil, eris.Errorf("%s is a scalar, can't look up %s in it", strings.Join(walked, "."), segment)
		}
		walked = append(walked, segment)
	}

	return current, nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file starlark.Value
	var key string
	var fallback starlark.Value = starlark.None

	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	path, err := starlarkPathArg(ctx, file, "file")
	if err != nil {
		return nil, err
	}

	doc, err := ctx.loadYaml(path)
	if err != nil {
		return nil, err
	}

	value, err := lookupYaml(doc, key)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s from %s", key, simplifyPath(ctx, path))
	}
	if value == nil {
		return fallback, nil
	}

	return interfaceToStarlark(thread, value)
}

func statBuiltin(check func(info os.FileInfo) bool) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var target starlark.Value
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &target); err != nil {
			return nil, err
		}

		path, err := starlarkPathArg(getCtx(thread), target, "path")
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		return starlark.Bool(err == nil && check(info)), nil
	}
}

var (
	starIsdir  = statBuiltin(func(info os.FileInfo) bool { return info.IsDir() })
	starIsfile = statBuiltin(func(info os.FileInfo) bool { return info.Mode().IsRegular() })
)

func execNodes(ctx *parserCtx, name string, command starlark.Value) ([]syntax.Node, error) {
	parser := syntax.NewParser()

	switch command := command.(type) {
	case starlark.String:
		script := TaskCmdScript{TaskName: name, Content: command.GoString()}
		stmts, err := script.ToShellStmts(parser)
		if err != nil {
			return nil, err
		}

		nodes := make([]syntax.Node, len(stmts))
		for idx, stmt := range stmts {
			nodes[idx] = stmt
		}
		return nodes, nil
	case starlark.Tuple:
		expr, err := processCmdParts(command, parser, filepath.Dir(ctx.filepath))
		if err != nil {
			return nil, err
		}
		return []syntax.Node{expr}, nil
	}

	return nil, eris.Errorf("%s: command is a %s, want string or tuple", name, command.Type())
}

// starExec runs a command while the script is evaluated and returns its stdout, or False if it failed.
func starExec(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	format := "text"
	var showError bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &format, "show_error?", &showError)
	if err != nil {
		return nil, err
	}
	if format != "text" && format != "json" {
		return nil, eris.Errorf("%s: unsupported format %s", fn.Name(), format)
	}

	ctx := getCtx(thread)
	nodes, err := execNodes(ctx, fn.Name(), command)
	if err != nil {
		return nil, err
	}

	var stdout strings.Builder
	var stderr io.Writer
	if showError {
		stderr = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(filepath.Dir(ctx.filepath)),
		interp.Env(expand.ListEnviron(getEnvVars(ctx)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, node := range nodes {
		if err := runner.Run(ctx.ctx, node); err != nil {
			if showError {
				log(ctx.ctx).Error().Err(err).Msgf("%s failed", fn.Name())
			}
			return starlark.False, nil
		}
	}

	if format == "text" {
		return starlark.String(stdout.String()), nil
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(stdout.String()), &decoded); err != nil {
		return nil, eris.Wrapf(err, "%s: failed to parse command output", fn.Name())
	}
	return interfaceToStarlark(thread, decoded)
}
