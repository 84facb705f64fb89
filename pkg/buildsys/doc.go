// Package buildsys implements a minimal build system based on Starlark for the task specification
// and mvdan.cc/sh for the shell runtime.
// Besides shell commands, tasks can run built-in actions (shadow jar bundling and Maven publishing)
// and name finalizer tasks that run once the task itself succeeded.
package buildsys
