package deps

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var testFiles = map[string]string{
	"pkg-1.0/lib/a.txt":     "alpha",
	"pkg-1.0/lib/sub/b.txt": "beta",
}

func makeTar(t *testing.T, w io.Writer) {
	tw := tar.NewWriter(w)
	for _, name := range []string{"pkg-1.0/lib/a.txt", "pkg-1.0/lib/sub/b.txt"} {
		content := testFiles[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func archive(t *testing.T, format string) []byte {
	buf := bytes.Buffer{}

	switch format {
	case "zip":
		zw := zip.NewWriter(&buf)
		for _, name := range []string{"pkg-1.0/lib/a.txt", "pkg-1.0/lib/sub/b.txt"} {
			w, err := zw.Create(name)
			require.NoError(t, err)
			_, err = w.Write([]byte(testFiles[name]))
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
	case "tar.gz":
		gw := gzip.NewWriter(&buf)
		makeTar(t, gw)
		require.NoError(t, gw.Close())
	case "tar.xz":
		xw, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		makeTar(t, xw)
		require.NoError(t, xw.Close())
	case "tar.br":
		bw := brotli.NewWriter(&buf)
		makeTar(t, bw)
		require.NoError(t, bw.Close())
	default:
		t.Fatalf("unknown format %s", format)
	}

	return buf.Bytes()
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func serve(t *testing.T, files map[string][]byte) (*httptest.Server, *int) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		hits++
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestExtractFormats(t *testing.T) {
	for _, format := range []string{"zip", "tar.gz", "tar.xz", "tar.br"} {
		format := format
		t.Run(format, func(t *testing.T) {
			data := archive(t, format)
			srv, _ := serve(t, map[string][]byte{"/dep." + format: data})
			root := t.TempDir()

			cfg := &Config{
				Deps: map[string]Spec{
					"dep": {
						URL:    srv.URL + "/dep." + format,
						Dest:   "third_party/dep",
						Sha256: checksum(data),
						Strip:  1,
					},
				},
			}

			stamps := Stamps{}
			fetcher := &Fetcher{Client: srv.Client()}
			_, err := fetcher.Fetch(context.Background(), root, cfg, stamps)
			require.NoError(t, err)

			content, err := ioutil.ReadFile(filepath.Join(root, "third_party", "dep", "lib", "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(content))

			content, err = ioutil.ReadFile(filepath.Join(root, "third_party", "dep", "lib", "sub", "b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "beta", string(content))

			assert.Contains(t, stamps, "dep")
		})
	}
}

func TestFetchJarIsCopied(t *testing.T) {
	jar := []byte("PK fake jar")
	srv, _ := serve(t, map[string][]byte{"/lib.jar": jar})
	root := t.TempDir()

	cfg := &Config{Deps: map[string]Spec{
		"lib": {URL: srv.URL + "/lib.jar", Dest: "libs/lib.jar", Sha256: checksum(jar)},
	}}

	_, err := (&Fetcher{Client: srv.Client()}).Fetch(context.Background(), root, cfg, Stamps{})
	require.NoError(t, err)

	content, err := ioutil.ReadFile(filepath.Join(root, "libs", "lib.jar"))
	require.NoError(t, err)
	assert.Equal(t, jar, content)
}

func TestFetchSendsUserAgent(t *testing.T) {
	jar := []byte("jar")
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
		w.Write(jar)
	}))
	t.Cleanup(srv.Close)

	cfg := &Config{Deps: map[string]Spec{
		"lib": {URL: srv.URL + "/lib.jar", Dest: "lib.jar", Sha256: checksum(jar)},
	}}

	fetcher := &Fetcher{Client: srv.Client(), UserAgent: "memory-store-build-tools"}
	_, err := fetcher.Fetch(context.Background(), t.TempDir(), cfg, Stamps{})
	require.NoError(t, err)
	assert.Equal(t, "memory-store-build-tools", agent)
}

func TestFetchSkipsStampedDependencies(t *testing.T) {
	jar := []byte("jar")
	srv, hits := serve(t, map[string][]byte{"/lib.jar": jar})
	root := t.TempDir()

	cfg := &Config{Deps: map[string]Spec{
		"lib": {URL: srv.URL + "/lib.jar", Dest: "lib.jar", Sha256: checksum(jar)},
	}}

	stamps := Stamps{}
	fetcher := &Fetcher{Client: srv.Client()}
	_, err := fetcher.Fetch(context.Background(), root, cfg, stamps)
	require.NoError(t, err)
	require.NoError(t, SaveStamps(root, stamps))

	_, loaded, err := loadWithConfig(t, root, "deps: {}\n")
	require.NoError(t, err)
	assert.Equal(t, stamps, loaded)

	_, err = fetcher.Fetch(context.Background(), root, cfg, loaded)
	require.NoError(t, err)
	assert.Equal(t, 1, *hits)
}

func loadWithConfig(t *testing.T, root, content string) (*Config, Stamps, error) {
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, ConfigFile), []byte(content), 0644))
	return Load(root)
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv, _ := serve(t, map[string][]byte{"/lib.jar": []byte("tampered")})
	root := t.TempDir()

	cfg := &Config{Deps: map[string]Spec{
		"lib": {URL: srv.URL + "/lib.jar", Dest: "lib.jar", Sha256: checksum([]byte("original"))},
	}}

	_, err := (&Fetcher{Client: srv.Client()}).Fetch(context.Background(), root, cfg, Stamps{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrChecksumMismatch))

	_, err = os.Stat(filepath.Join(root, "lib.jar"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchRequiresChecksum(t *testing.T) {
	srv, hits := serve(t, map[string][]byte{"/lib.jar": []byte("jar")})

	cfg := &Config{Deps: map[string]Spec{
		"lib": {URL: srv.URL + "/lib.jar", Dest: "lib.jar"},
	}}

	_, err := (&Fetcher{Client: srv.Client()}).Fetch(context.Background(), t.TempDir(), cfg, Stamps{})
	require.Error(t, err)
	assert.Equal(t, 0, *hits)
}

func TestFetchUpdateRewritesChecksums(t *testing.T) {
	jar := []byte("new jar")
	srv, _ := serve(t, map[string][]byte{"/lib.jar": jar, "/other.jar": jar})
	root := t.TempDir()

	content := "vars:\n  HOST: " + srv.URL + "\n\ndeps:\n  lib:\n    url: '{HOST}/lib.jar'\n    dest: lib.jar\n    sha256: abc\n\n" +
		"  other:\n    url: '{HOST}/other.jar'\n    dest: other.jar\n"
	cfg, stamps, err := loadWithConfig(t, root, content)
	require.NoError(t, err)

	changes, err := (&Fetcher{Client: srv.Client(), Update: true}).Fetch(context.Background(), root, cfg, stamps)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lib": checksum(jar), "other": checksum(jar)}, changes)

	generated, err := cfg.WithChecksums(changes)
	require.NoError(t, err)

	updated, err := Parse([]byte(generated))
	require.NoError(t, err)
	assert.Equal(t, checksum(jar), updated.Deps["lib"].Sha256)
	assert.Equal(t, checksum(jar), updated.Deps["other"].Sha256)
	assert.Equal(t, "{HOST}/lib.jar", updated.Deps["lib"].URL)
}

func TestResolveConditions(t *testing.T) {
	vars := map[string]string{"VERSION": "1.2", runtime.GOOS: "true"}

	spec := Spec{URL: "https://example.com/{VERSION}/x.zip", Condition: runtime.GOOS}
	assert.True(t, spec.Resolve(vars))
	assert.Equal(t, "https://example.com/1.2/x.zip", spec.URL)

	spec = Spec{URL: "x.zip", Condition: "missing"}
	assert.False(t, spec.Resolve(vars))

	spec = Spec{URL: "x.zip", Rejections: runtime.GOOS}
	assert.False(t, spec.Resolve(vars))
}

func TestEntryPathRejectsTraversal(t *testing.T) {
	dest := t.TempDir()

	_, err := entryPath(dest, "../evil.txt", Spec{})
	assert.Error(t, err)

	path, err := entryPath(dest, "top/file.txt", Spec{Strip: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "file.txt"), path)

	path, err = entryPath(dest, "top", Spec{Strip: 1})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestGetExtractorUnsupported(t *testing.T) {
	_, err := GetExtractor("https://example.com/file.rar")
	assert.Error(t, err)

	_, err = GetExtractor("https://example.com/file.jar?raw=true")
	assert.NoError(t, err)
}
