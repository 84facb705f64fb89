package bundle

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// EntryTime is stored for every entry so that identical inputs produce identical archives
var EntryTime = time.Date(1980, time.February, 1, 0, 0, 0, 0, time.UTC)

type entrySource func() (io.ReadCloser, error)

// JarWriter collects entries and writes them as a sorted, reproducible JAR archive on Close
type JarWriter struct {
	hdl      *os.File
	hash     hash.Hash
	counter  *countingWriter
	manifest []byte
	entries  map[string]entrySource
	services map[string][]string
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// NewJarWriter creates a new JarWriter writing to the given file
func NewJarWriter(filename string, manifest []byte) (*JarWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	hash := sha256.New()
	return &JarWriter{
		hdl:      hdl,
		hash:     hash,
		counter:  &countingWriter{w: io.MultiWriter(hdl, hash)},
		manifest: manifest,
		entries:  map[string]entrySource{},
		services: map[string][]string{},
	}, nil
}

// Has reports whether an entry with this name was already added
func (w *JarWriter) Has(name string) bool {
	_, ok := w.entries[name]
	return ok
}

// AddFile registers an entry. The first registration of a name wins, later ones are ignored and reported
// as false.
func (w *JarWriter) AddFile(name string, source entrySource) bool {
	if w.Has(name) {
		return false
	}

	w.entries[name] = source
	return true
}

// AddServiceLines merges provider lines into the given META-INF/services file. Duplicate providers are dropped.
func (w *JarWriter) AddServiceLines(name string, lines []string) {
	existing := w.services[name]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		dup := false
		for _, item := range existing {
			if item == line {
				dup = true
				break
			}
		}

		if !dup {
			existing = append(existing, line)
		}
	}
	w.services[name] = existing
}

// Close writes the manifest, all directories and all entries (sorted by name) and closes the file.
// It returns the archive size and its SHA-256 digest.
func (w *JarWriter) Close() (int64, string, error) {
	zw := zip.NewWriter(w.counter)

	err := w.writeAll(zw)
	if err != nil {
		zw.Close()
		w.hdl.Close()
		return 0, "", err
	}

	err = zw.Close()
	if err != nil {
		w.hdl.Close()
		return 0, "", eris.Wrap(err, "failed to finish archive")
	}

	err = w.hdl.Close()
	if err != nil {
		return 0, "", err
	}

	return w.counter.n, hex.EncodeToString(w.hash.Sum(nil)), nil
}

// Abort closes and removes the unfinished archive
func (w *JarWriter) Abort() {
	w.hdl.Close()
	os.Remove(w.hdl.Name())
}

// Count returns the number of file entries (without directories and the manifest)
func (w *JarWriter) Count() int {
	count := len(w.entries)
	for name := range w.services {
		if !w.Has(name) {
			count++
		}
	}
	return count
}

func (w *JarWriter) writeAll(zw *zip.Writer) error {
	names := make([]string, 0, len(w.entries)+len(w.services))
	for name := range w.entries {
		names = append(names, name)
	}
	for name := range w.services {
		if !w.Has(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// META-INF/ and the manifest have to be the first entries for java.util.jar.JarInputStream
	err := writeDirectory(zw, "META-INF/")
	if err != nil {
		return err
	}

	err = writeBytes(zw, manifestName, w.manifest)
	if err != nil {
		return err
	}

	dirs := map[string]bool{"META-INF/": true}
	for _, name := range names {
		for _, dir := range parentDirs(name) {
			if !dirs[dir] {
				dirs[dir] = true
				err = writeDirectory(zw, dir)
				if err != nil {
					return err
				}
			}
		}

		if lines, ok := w.services[name]; ok {
			if source, ok := w.entries[name]; ok {
				// a service file from a source directory is merged with the ones found in jars
				lines, err = prependServiceSource(lines, source)
				if err != nil {
					return eris.Wrapf(err, "failed to read %s", name)
				}
			}

			err = writeBytes(zw, name, []byte(strings.Join(lines, "\n")+"\n"))
		} else {
			err = writeSource(zw, name, w.entries[name])
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func prependServiceSource(lines []string, source entrySource) ([]string, error) {
	rdr, err := source()
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	content, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}

	merged := []string{}
	seen := map[string]bool{}
	for _, line := range append(strings.Split(string(content), "\n"), lines...) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		merged = append(merged, line)
	}

	return merged, nil
}

func parentDirs(name string) []string {
	result := []string{}
	dir := path.Dir(name)
	for dir != "." && dir != "/" {
		result = append([]string{dir + "/"}, result...)
		dir = path.Dir(dir)
	}
	return result
}

func header(name string, method uint16) *zip.FileHeader {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: EntryTime,
	}

	if strings.HasSuffix(name, "/") {
		hdr.SetMode(os.ModeDir | 0755)
	} else {
		hdr.SetMode(0644)
	}
	return hdr
}

func writeDirectory(zw *zip.Writer, name string) error {
	_, err := zw.CreateHeader(header(name, zip.Store))
	if err != nil {
		return eris.Wrapf(err, "failed to add directory %s", name)
	}
	return nil
}

func writeBytes(zw *zip.Writer, name string, content []byte) error {
	out, err := zw.CreateHeader(header(name, zip.Deflate))
	if err != nil {
		return eris.Wrapf(err, "failed to add %s", name)
	}

	_, err = out.Write(content)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", name)
	}
	return nil
}

func writeSource(zw *zip.Writer, name string, source entrySource) error {
	rdr, err := source()
	if err != nil {
		return eris.Wrapf(err, "failed to open source for %s", name)
	}
	defer rdr.Close()

	out, err := zw.CreateHeader(header(name, zip.Deflate))
	if err != nil {
		return eris.Wrapf(err, "failed to add %s", name)
	}

	_, err = io.Copy(out, rdr)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", name)
	}
	return nil
}
