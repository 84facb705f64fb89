// Package bundle builds shadow jars: a single JAR that contains the compiled classes and resources of a
// project together with the contents of all its dependency jars.
package bundle

import (
	"archive/zip"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultExcludes lists entries that must never be copied from dependency jars. Signatures would be invalid
// for the merged archive and module descriptors break the classpath.
var DefaultExcludes = []string{
	"META-INF/INDEX.LIST",
	"META-INF/*.SF",
	"META-INF/*.DSA",
	"META-INF/*.RSA",
	"module-info.class",
	"META-INF/versions/*/module-info.class",
}

// Spec describes a shadow jar
type Spec struct {
	ArchiveName       string
	Destination       string
	Sources           []string
	Jars              []string
	Manifest          map[string]string
	Exclude           []string
	MergeServiceFiles bool
}

// Result describes a finished archive
type Result struct {
	Path    string
	Entries int
	Size    int64
	SHA256  string
}

// Validate checks the parts of the spec that don't depend on the filesystem
func (s *Spec) Validate() error {
	if s.ArchiveName == "" {
		return eris.New("archive name is empty")
	}

	if strings.ContainsAny(s.ArchiveName, `/\`) || s.ArchiveName == "." || s.ArchiveName == ".." {
		return eris.Errorf("archive name %s must not contain a path", s.ArchiveName)
	}

	if s.Destination == "" {
		return eris.New("destination directory is empty")
	}

	for _, pattern := range s.Exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			return eris.Wrapf(err, "invalid exclude pattern %s", pattern)
		}
	}

	return nil
}

// OutputPath returns the path of the finished archive
func (s *Spec) OutputPath() string {
	return filepath.Join(s.Destination, s.ArchiveName)
}

func (s *Spec) excluded(name string) bool {
	if name == manifestName {
		return true
	}

	for _, list := range [][]string{DefaultExcludes, s.Exclude} {
		for _, pattern := range list {
			if ok, _ := path.Match(pattern, name); ok {
				return true
			}
		}
	}

	return false
}

// Bundle writes the archive described by spec. The archive is assembled in a temporary file inside the
// destination directory and only renamed to its final name once it's complete.
func Bundle(ctx context.Context, spec Spec) (*Result, error) {
	err := spec.Validate()
	if err != nil {
		return nil, err
	}

	manifest, err := EncodeManifest(spec.Manifest)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(spec.Destination, 0755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", spec.Destination)
	}

	tmp, err := ioutil.TempFile(spec.Destination, "."+spec.ArchiveName+".*")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create temporary archive in %s", spec.Destination)
	}
	tmp.Close()

	writer, err := NewJarWriter(tmp.Name(), manifest)
	if err != nil {
		os.Remove(tmp.Name())
		return nil, eris.Wrapf(err, "failed to open %s", tmp.Name())
	}

	closers := []io.Closer{}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for _, dir := range spec.Sources {
		err = addDirectory(ctx, writer, &spec, dir)
		if err != nil {
			writer.Abort()
			return nil, err
		}
	}

	for _, jar := range spec.Jars {
		closer, err := addJar(ctx, writer, &spec, jar)
		if closer != nil {
			closers = append(closers, closer)
		}
		if err != nil {
			writer.Abort()
			return nil, err
		}
	}

	if err = ctx.Err(); err != nil {
		writer.Abort()
		return nil, err
	}

	entries := writer.Count()
	size, digest, err := writer.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return nil, eris.Wrapf(err, "failed to write %s", spec.OutputPath())
	}

	dest := spec.OutputPath()
	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		os.Remove(tmp.Name())
		return nil, eris.Wrapf(err, "failed to move archive to %s", dest)
	}

	zerolog.Ctx(ctx).Debug().
		Str("path", dest).
		Int("entries", entries).
		Int64("size", size).
		Msg("archive written")

	return &Result{
		Path:    dest,
		Entries: entries,
		Size:    size,
		SHA256:  digest,
	}, nil
}

func addDirectory(ctx context.Context, writer *JarWriter, spec *Spec, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to read source directory %s", dir)
	}

	if !info.IsDir() {
		return eris.Errorf("source %s is not a directory", dir)
	}

	return filepath.Walk(dir, func(itemPath string, info os.FileInfo, err error) error {
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", itemPath)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, itemPath)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if spec.excluded(name) {
			return nil
		}

		added := writer.AddFile(name, func() (io.ReadCloser, error) {
			return os.Open(itemPath)
		})
		if !added {
			zerolog.Ctx(ctx).Debug().Str("entry", name).Str("source", itemPath).Msg("skipping duplicate entry")
		}

		return nil
	})
}

func addJar(ctx context.Context, writer *JarWriter, spec *Spec, jarPath string) (io.Closer, error) {
	archive, err := zip.OpenReader(jarPath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open dependency %s", jarPath)
	}

	for _, item := range archive.File {
		if err := ctx.Err(); err != nil {
			return archive, err
		}

		name := strings.TrimPrefix(item.Name, "/")
		if strings.HasSuffix(name, "/") || spec.excluded(name) {
			continue
		}

		if spec.MergeServiceFiles && strings.HasPrefix(name, "META-INF/services/") {
			lines, err := readLines(item)
			if err != nil {
				return archive, eris.Wrapf(err, "failed to read %s from %s", name, jarPath)
			}

			writer.AddServiceLines(name, lines)
			continue
		}

		item := item
		added := writer.AddFile(name, func() (io.ReadCloser, error) {
			return item.Open()
		})
		if !added {
			zerolog.Ctx(ctx).Debug().Str("entry", name).Str("source", jarPath).Msg("skipping duplicate entry")
		}
	}

	return archive, nil
}

func readLines(item *zip.File) ([]string, error) {
	rdr, err := item.Open()
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	content, err := ioutil.ReadAll(rdr)
	if err != nil {
		return nil, err
	}

	return strings.Split(string(content), "\n"), nil
}
