package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oop/memory-store/build-tools/pkg/buildsys"
	"github.com/oop/memory-store/build-tools/pkg/config"
)

func TestSplitArgs(t *testing.T) {
	tasks, options := splitArgs([]string{"build", "javac=/opt/jdk/bin/javac", "clean", "empty="})
	assert.Equal(t, []string{"build", "clean"}, tasks)
	assert.Equal(t, map[string]string{"javac": "/opt/jdk/bin/javac", "empty": ""}, options)
}

func TestPrintTaskList(t *testing.T) {
	out := bytes.Buffer{}
	printTaskList(&out, buildsys.TaskList{
		"shadowJar": {Short: "shadowJar", Desc: "Bundles everything"},
		"build":     {Short: "build", Desc: "Builds"},
	})

	assert.Equal(t, "Available tasks:\n * build:       Builds\n * shadowJar:   Bundles everything\n", out.String())
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	return cfg
}

func TestJSONLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.JSON = true
	cfg.Log.Level = "warn"

	out := bytes.Buffer{}
	logger := NewLogger(cfg, &out)
	logger.Info().Msg("hidden")
	logger.Warn().Str("task", "publish").Msg("visible")

	var evt map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &evt))
	assert.Equal(t, "visible", evt["message"])
	assert.Equal(t, "publish", evt["task"])
}

func TestConsoleLogger(t *testing.T) {
	t.Setenv("BUILDSYS_DEBUG", "")
	cfg := testConfig(t)

	out := bytes.Buffer{}
	logger := NewLogger(cfg, &out)
	logger.Info().Str("task", "shadowJar").Msg("wrote archive")
	logger.Error().Err(eris.New("upload failed")).Msg("Build failed")

	text := out.String()
	assert.Contains(t, text, "shadowJar: wrote archive")
	assert.Contains(t, text, "Error: Build failed")
	assert.Contains(t, text, "upload failed")
}
