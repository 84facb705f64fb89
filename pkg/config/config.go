package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultFile is read from the project root if it exists
const DefaultFile = "buildtools.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" toml:"level" usage:"Log level (debug, info, warn, error or fatal)"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Repository struct {
		Local string `toml:"local" usage:"Path of the local Maven repository (defaults to ~/.m2/repository)"`
	} `toml:"repository"`
	HTTP struct {
		Timeout   int    `default:"300" toml:"timeout" usage:"Timeout for repository requests in seconds"`
		UserAgent string `default:"memory-store-build-tools" toml:"user_agent" usage:"User-Agent sent to remote repositories"`
	} `toml:"http"`
	State struct {
		Path string `default:".buildtools/state.db" toml:"path" usage:"Publication history database (relative to the project root, empty disables it)"`
	} `toml:"state"`
	Progress bool `default:"true" toml:"progress" usage:"Show progress bars for downloads and uploads"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Values are read from
// the passed TOML files (missing files are ignored) and MEMSTORE_* environment variables. Flags are handled
// by cobra.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{DefaultFile}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "MEMSTORE",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load is a shortcut for Loader() followed by Load() and Validate()
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.HTTP.Timeout <= 0 {
		return eris.Errorf(`Invalid value for http.timeout: %d (must be positive)`, cfg.HTTP.Timeout)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// HTTPTimeout converts .HTTP.Timeout to a time.Duration
func (cfg *Config) HTTPTimeout() time.Duration {
	return time.Duration(cfg.HTTP.Timeout) * time.Second
}
