package buildsys

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// PropertyEnvPrefix marks environment variables that are turned into project properties
// (MEMSTORE_PROP_mavenUsername=... becomes the property mavenUsername)
const PropertyEnvPrefix = "MEMSTORE_PROP_"

var (
	// ErrMissingProperty is returned by property() for properties that weren't passed
	ErrMissingProperty = eris.New("missing project property")
	// ErrMalformedProperty is returned for -P arguments that aren't name=value pairs
	ErrMalformedProperty = eris.New("malformed project property")

	propertyNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
)

// Properties holds the project properties for one build invocation. They're read once and never change.
type Properties map[string]string

// ParseProperties builds the property set from environment entries (KEY=value, as returned by os.Environ())
// and name=value arguments. Arguments override environment values.
func ParseProperties(args []string, environ []string) (Properties, error) {
	props := Properties{}

	for _, item := range environ {
		if !strings.HasPrefix(item, PropertyEnvPrefix) {
			continue
		}

		name, value, err := splitProperty(item[len(PropertyEnvPrefix):])
		if err != nil {
			return nil, eris.Wrapf(err, "environment variable %s", strings.SplitN(item, "=", 2)[0])
		}
		props[name] = value
	}

	for _, arg := range args {
		name, value, err := splitProperty(arg)
		if err != nil {
			return nil, err
		}
		props[name] = value
	}

	return props, nil
}

func splitProperty(item string) (string, string, error) {
	pos := strings.Index(item, "=")
	if pos < 0 {
		return "", "", eris.Wrapf(ErrMalformedProperty, "%q is not a name=value pair", item)
	}

	name := item[:pos]
	if !propertyNamePattern.MatchString(name) {
		return "", "", eris.Wrapf(ErrMalformedProperty, "invalid property name %q", name)
	}

	return name, item[pos+1:], nil
}

// Names returns the sorted property names
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// * Builtins

func hasProperty(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name)
	if err != nil {
		return nil, err
	}

	_, ok := getCtx(thread).properties[name]
	return starlark.Bool(ok), nil
}

func property(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	value, ok := ctx.properties[name]
	if !ok {
		return nil, ctx.fail(eris.Wrapf(ErrMissingProperty, "could not get unknown property %s", name))
	}

	return starlark.String(value), nil
}

func findProperty(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name, &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := getCtx(thread).properties[name]
	if !ok {
		return defaultValue, nil
	}

	return starlark.String(value), nil
}
