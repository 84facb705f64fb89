package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
)

// TaskFile is the name of the build script that marks the project root
const TaskFile = "tasks.star"

// FindUp walks from start towards the filesystem root and returns the first directory containing name
func FindUp(start, name string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		_, err := os.Stat(filepath.Join(path, name))
		if err == nil {
			return path, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "error ocurred while searching for %s", name)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Wrapf(os.ErrNotExist, "no %s found above %s", name, start)
		}
		path = parent
	}
}

// GetProjectRoot returns the closest directory above the working directory that contains a tasks.star file
func GetProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	root, err := FindUp(wd, TaskFile)
	if err != nil {
		return "", eris.Wrap(err, "project root not found")
	}

	return root, nil
}

// NewProgressBar returns a byte progress bar. It's hidden if visible is false or we're running on CI.
func NewProgressBar(length int64, desc string, visible bool) *progressbar.ProgressBar {
	if !visible || os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
