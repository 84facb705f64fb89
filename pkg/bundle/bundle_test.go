package bundle

import (
	"archive/zip"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func writeJar(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dep.jar")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func readArchive(t *testing.T, path string) ([]string, map[string]string) {
	t.Helper()

	archive, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer archive.Close()

	names := []string{}
	contents := map[string]string{}
	for _, item := range archive.File {
		names = append(names, item.Name)
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		rdr, err := item.Open()
		require.NoError(t, err)
		data, err := ioutil.ReadAll(rdr)
		require.NoError(t, err)
		rdr.Close()
		contents[item.Name] = string(data)
	}
	return names, contents
}

func TestBundleMergesSourcesAndJars(t *testing.T) {
	classes := writeTree(t, map[string]string{
		"com/oop/memorystore/Store.class": "store",
		"com/oop/memorystore/Query.class": "query",
		"META-INF/MANIFEST.MF":            "Manifest-Version: 1.0\r\nIgnored: yes\r\n",
	})
	dep := writeJar(t, map[string]string{
		"META-INF/MANIFEST.MF":            "Manifest-Version: 1.0\r\n",
		"META-INF/DEP.SF":                 "signature",
		"META-INF/DEP.RSA":                "signature",
		"module-info.class":               "module",
		"com/oop/memorystore/Store.class": "shadowed",
		"org/dep/Helper.class":            "helper",
	})

	out := filepath.Join(t.TempDir(), "out")
	result, err := Bundle(context.Background(), Spec{
		ArchiveName: "memory-store.jar",
		Destination: out,
		Sources:     []string{classes},
		Jars:        []string{dep},
		Manifest:    map[string]string{"Main-Class": "com.oop.memorystore.Main"},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "memory-store.jar"), result.Path)
	assert.Equal(t, 3, result.Entries)
	assert.Len(t, result.SHA256, 64)

	info, err := os.Stat(result.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), result.Size)

	names, contents := readArchive(t, result.Path)
	assert.Equal(t, []string{
		"META-INF/",
		"META-INF/MANIFEST.MF",
		"com/",
		"com/oop/",
		"com/oop/memorystore/",
		"com/oop/memorystore/Query.class",
		"com/oop/memorystore/Store.class",
		"org/",
		"org/dep/",
		"org/dep/Helper.class",
	}, names)
	assert.Equal(t, "store", contents["com/oop/memorystore/Store.class"])
	assert.Equal(t, "Manifest-Version: 1.0\r\nMain-Class: com.oop.memorystore.Main\r\n\r\n", contents["META-INF/MANIFEST.MF"])

	// only the archive is left in the output directory
	entries, err := ioutil.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBundleIsReproducible(t *testing.T) {
	classes := writeTree(t, map[string]string{
		"a/A.class": "a",
		"b/B.class": "b",
		"c.txt":     "c",
	})

	spec := Spec{ArchiveName: "memory-store.jar", Sources: []string{classes}}

	spec.Destination = filepath.Join(t.TempDir(), "first")
	first, err := Bundle(context.Background(), spec)
	require.NoError(t, err)

	// touching the inputs must not change the archive
	now := EntryTime.AddDate(40, 0, 0)
	require.NoError(t, os.Chtimes(filepath.Join(classes, "c.txt"), now, now))

	spec.Destination = filepath.Join(t.TempDir(), "second")
	second, err := Bundle(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(first.Path), filepath.Base(second.Path))
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, first.Size, second.Size)
}

func TestBundleMergesServiceFiles(t *testing.T) {
	classes := writeTree(t, map[string]string{
		"META-INF/services/com.oop.Provider": "com.oop.Local\n",
	})
	depA := writeJar(t, map[string]string{
		"META-INF/services/com.oop.Provider": "# comment\ncom.dep.A\ncom.oop.Local\n",
	})
	depB := writeJar(t, map[string]string{
		"META-INF/services/com.oop.Provider": "com.dep.B\n",
		"META-INF/services/com.other.Api":    "com.dep.Other\n",
	})

	result, err := Bundle(context.Background(), Spec{
		ArchiveName:       "merged.jar",
		Destination:       t.TempDir(),
		Sources:           []string{classes},
		Jars:              []string{depA, depB},
		MergeServiceFiles: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Entries)

	_, contents := readArchive(t, result.Path)
	assert.Equal(t, "com.oop.Local\ncom.dep.A\ncom.dep.B\n", contents["META-INF/services/com.oop.Provider"])
	assert.Equal(t, "com.dep.Other\n", contents["META-INF/services/com.other.Api"])
}

func TestBundleExcludes(t *testing.T) {
	classes := writeTree(t, map[string]string{
		"a/A.class":     "a",
		"a/A.java":      "source",
		"docs/notes.md": "notes",
	})

	result, err := Bundle(context.Background(), Spec{
		ArchiveName: "x.jar",
		Destination: t.TempDir(),
		Sources:     []string{classes},
		Exclude:     []string{"**.java", "a/*.java", "docs/*"},
	})
	require.NoError(t, err)

	_, contents := readArchive(t, result.Path)
	assert.Contains(t, contents, "a/A.class")
	assert.NotContains(t, contents, "a/A.java")
	assert.NotContains(t, contents, "docs/notes.md")
}

func TestBundleFailureLeavesNoArchive(t *testing.T) {
	out := t.TempDir()
	_, err := Bundle(context.Background(), Spec{
		ArchiveName: "memory-store.jar",
		Destination: out,
		Jars:        []string{filepath.Join(out, "missing.jar")},
	})
	require.Error(t, err)

	entries, err := ioutil.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBundleCancelled(t *testing.T) {
	classes := writeTree(t, map[string]string{"a/A.class": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := t.TempDir()
	_, err := Bundle(ctx, Spec{ArchiveName: "x.jar", Destination: out, Sources: []string{classes}})
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := ioutil.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpecValidate(t *testing.T) {
	assert.Error(t, (&Spec{Destination: "out"}).Validate())
	assert.Error(t, (&Spec{ArchiveName: "../x.jar", Destination: "out"}).Validate())
	assert.Error(t, (&Spec{ArchiveName: "x.jar"}).Validate())
	assert.Error(t, (&Spec{ArchiveName: "x.jar", Destination: "out", Exclude: []string{"["}}).Validate())
	assert.NoError(t, (&Spec{ArchiveName: "x.jar", Destination: "out"}).Validate())
}
