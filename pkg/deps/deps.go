// Package deps downloads and unpacks the third-party files listed in DEPS.yml
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/oop/memory-store/build-tools/pkg"
)

const (
	// ConfigFile lists the dependencies, relative to the project root
	ConfigFile = "DEPS.yml"
	// StampFile remembers which dependencies have already been extracted
	StampFile = "DEPS.stamps"
)

// ErrChecksumMismatch is returned when a download doesn't match the configured sha256
var ErrChecksumMismatch = eris.New("checksum mismatch")

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Spec describes a single dependency
type Spec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

// Config is the parsed content of DEPS.yml
type Config struct {
	Vars map[string]string
	Deps map[string]Spec

	raw string
}

// Stamps maps dependency names to the URL and checksum they were last extracted from
type Stamps map[string]string

func stampToken(spec Spec) string {
	return spec.URL + "#" + spec.Sha256
}

// Load reads DEPS.yml and DEPS.stamps from the project root. A missing stamp file is not an error.
func Load(projectRoot string) (*Config, Stamps, error) {
	cfgPath := filepath.Join(projectRoot, ConfigFile)
	cfgData, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Could not open file %s.", cfgPath)
	}

	cfg, err := Parse(cfgData)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Failed to parse %s.", cfgPath)
	}

	stamps := Stamps{}
	stampPath := filepath.Join(projectRoot, StampFile)
	stampData, err := ioutil.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return nil, nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
		}
	}

	return cfg, stamps, nil
}

// Parse decodes the content of a DEPS.yml file
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	err := yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}
	if cfg.Deps == nil {
		cfg.Deps = map[string]Spec{}
	}
	cfg.raw = string(data)

	return cfg, nil
}

// SaveStamps writes the stamp file
func SaveStamps(projectRoot string, stamps Stamps) error {
	stampData, err := json.MarshalIndent(stamps, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode stamps")
	}

	return eris.Wrap(ioutil.WriteFile(filepath.Join(projectRoot, StampFile), stampData, 0660), "failed to write stamps")
}

// Resolve expands {VAR} placeholders in the URL and reports whether the dependency applies for the given vars
func (s *Spec) Resolve(vars map[string]string) bool {
	s.URL = varMatcher.ReplaceAllStringFunc(s.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	for _, condition := range strings.Split(s.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] == "" {
			return false
		}
	}

	for _, condition := range strings.Split(s.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] != "" {
			return false
		}
	}
	return true
}

// DefaultVars returns the config vars plus the current OS, architecture and CI flag
func (c *Config) DefaultVars() map[string]string {
	vars := make(map[string]string, len(c.Vars)+3)
	for k, v := range c.Vars {
		vars[k] = v
	}

	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}
	return vars
}

// Names returns the dependency names in a stable order
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Deps))
	for name := range c.Deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithChecksums returns the DEPS.yml content with the sha256 values in changes replaced (or added)
func (c *Config) WithChecksums(changes map[string]string) (string, error) {
	lines := strings.Split(c.raw, "\n")
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		header := -1
		for idx, line := range lines {
			if strings.TrimRight(line, " \r") == "  "+name+":" {
				header = idx
				break
			}
		}
		if header == -1 {
			return "", eris.Errorf("Failed to find the section for %s!", name)
		}

		replaced := false
		for idx := header + 1; idx < len(lines); idx++ {
			line := lines[idx]
			trimmed := strings.TrimLeft(line, " ")
			if trimmed == "" {
				continue
			}

			indent := len(line) - len(trimmed)
			if indent <= 2 {
				break
			}

			if strings.HasPrefix(trimmed, "sha256:") {
				lines[idx] = line[:indent] + "sha256: " + changes[name]
				replaced = true
				break
			}
		}

		if !replaced {
			lines = append(lines[:header+1], append([]string{"    sha256: " + changes[name]}, lines[header+1:]...)...)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// Fetcher downloads and extracts dependencies
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Progress  bool
	// Update records new checksums instead of failing on mismatches
	Update bool
}

// Fetch processes every dependency that's missing or outdated. Stamps are updated in place for each extracted
// dependency. In update mode, the returned map contains the new checksums.
func (f *Fetcher) Fetch(ctx context.Context, projectRoot string, cfg *Config, stamps Stamps) (map[string]string, error) {
	changes := map[string]string{}
	vars := cfg.DefaultVars()

	for _, name := range cfg.Names() {
		meta := cfg.Deps[name]
		// We eval the conditions even if we're updating because we have to evaluate the variable placeholders.
		skip := !meta.Resolve(vars)
		if skip && !f.Update {
			continue
		}

		destPath := filepath.Join(projectRoot, meta.Dest)
		_, err := os.Stat(destPath)
		destExists := err == nil

		if stamp, ok := stamps[name]; ok && stamp == stampToken(meta) && destExists && !f.Update {
			continue
		}

		pkg.PrintSubtask(name + ":  " + meta.URL)
		if meta.Sha256 == "" && !f.Update {
			return changes, eris.Errorf("Dependency %s doesn't have a checksum", name)
		}

		digest, err := f.fetchOne(ctx, projectRoot, name, meta, skip, changes)
		if err != nil {
			return changes, err
		}

		if !skip {
			meta.Sha256 = digest
			stamps[name] = stampToken(meta)
		}
	}

	return changes, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, projectRoot, name string, meta Spec, skip bool, changes map[string]string) (string, error) {
	tmp, err := ioutil.TempFile(projectRoot, "deps_dl.*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "Failed to create temporary download file")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	digest, size, err := f.download(ctx, meta.URL, tmp)
	if err != nil {
		return "", err
	}

	if digest != meta.Sha256 {
		if !f.Update {
			return "", eris.Wrapf(ErrChecksumMismatch, "%s: expected %s but got %s", name, meta.Sha256, digest)
		}

		pkg.PrintSubtask("Updating checksum")
		changes[name] = digest
	}

	if skip {
		return digest, nil
	}

	destPath := filepath.Join(projectRoot, meta.Dest)
	if _, err := os.Stat(destPath); err == nil {
		pkg.PrintSubtask("Remove " + destPath)
		err = os.RemoveAll(destPath)
		if err != nil {
			return "", eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	extractor, err := GetExtractor(meta.URL)
	if err != nil {
		return "", err
	}

	_, err = tmp.Seek(0, io.SeekStart)
	if err != nil {
		return "", eris.Wrap(err, "Failed to rewind download")
	}

	bar := pkg.NewProgressBar(size, "      extract", f.Progress)
	err = extractor(tmp, bar, destPath, meta)
	bar.Finish()
	if err != nil {
		return "", eris.Wrapf(err, "Failed to extract %s", name)
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return "", eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return "", eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	return digest, nil
}

func (f *Fetcher) download(ctx context.Context, url string, dest io.Writer) (string, int64, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Invalid URL %s", url)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, eris.Errorf("Download of %s failed with status %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := pkg.NewProgressBar(resp.ContentLength, "     download", f.Progress)
	size, err := io.Copy(io.MultiWriter(dest, hash, bar), resp.Body)
	bar.Finish()
	if err != nil {
		return "", 0, eris.Wrapf(err, "Failed during download of %s", url)
	}

	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
