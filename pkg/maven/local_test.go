package maven

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "memory-store.jar")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLocalRepositoryDeploy(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repository")
	repo, err := NewLocalRepository(root)
	require.NoError(t, err)
	assert.Equal(t, "mavenLocal", repo.Name())

	publisher := &Publisher{Now: func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC) }}
	pub := &Publication{Name: "mavenJava", Coordinates: testCoords, Artifact: writeArtifact(t, "jar content")}

	results, err := publisher.Publish(context.Background(), pub, []Repository{repo})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mavenLocal", results[0].Repository)

	versionDir := filepath.Join(root, "com", "oop", "memory-store", "1.9")
	content, err := ioutil.ReadFile(filepath.Join(versionDir, "memory-store-1.9.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar content", string(content))

	pom, err := ioutil.ReadFile(filepath.Join(versionDir, "memory-store-1.9.pom"))
	require.NoError(t, err)
	assert.Contains(t, string(pom), "<version>1.9</version>")

	meta, err := ioutil.ReadFile(filepath.Join(root, "com", "oop", "memory-store", "maven-metadata-local.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "<release>1.9</release>")
	assert.Contains(t, string(meta), "<lastUpdated>20261019083000</lastUpdated>")

	// no leftover temporary files
	entries, err := ioutil.ReadDir(versionDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLocalRepositoryKeepsOlderVersions(t *testing.T) {
	root := t.TempDir()
	repo, err := NewLocalRepository(root)
	require.NoError(t, err)

	publisher := &Publisher{}
	artifact := writeArtifact(t, "x")

	older := testCoords
	older.Version = "1.8"
	_, err = publisher.Publish(context.Background(), &Publication{Name: "p", Coordinates: older, Artifact: artifact}, []Repository{repo})
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), &Publication{Name: "p", Coordinates: testCoords, Artifact: artifact}, []Repository{repo})
	require.NoError(t, err)

	data, err := ioutil.ReadFile(filepath.Join(root, "com", "oop", "memory-store", localMetadataName))
	require.NoError(t, err)

	meta, err := ParseMetadata(data, testCoords)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.8", "1.9"}, meta.Versioning.Versions)
	assert.Equal(t, "1.9", meta.Versioning.Latest)
}

func TestLocalRepositoryFilesystemError(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, ioutil.WriteFile(blocker, []byte{}, 0644))

	// the repository root is a regular file so creating directories below it has to fail
	repo := &LocalRepository{Root: blocker}
	_, err := (&Publisher{}).Publish(context.Background(),
		&Publication{Name: "p", Coordinates: testCoords, Artifact: writeArtifact(t, "x")}, []Repository{repo})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(blocker, "com"))
	assert.Error(t, statErr)
}

func TestDefaultLocalPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := DefaultLocalPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".m2", "repository"), path)

	repo, err := NewLocalRepository("")
	require.NoError(t, err)
	assert.Equal(t, path, repo.Location())
}
