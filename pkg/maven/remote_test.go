package maven

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepository struct {
	lock     sync.Mutex
	files    map[string][]byte
	requests []string
	user     string
	password string
}

func newFakeRepository(t *testing.T, user, password string) (*fakeRepository, *httptest.Server) {
	repo := &fakeRepository{files: map[string][]byte{}, user: user, password: password}
	server := httptest.NewServer(repo)
	t.Cleanup(server.Close)
	return repo, server
}

func (f *fakeRepository) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	user, password, ok := r.BasicAuth()
	if !ok || user != f.user || password != f.password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := ioutil.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.files[r.URL.Path] = data
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		data, ok := f.files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestRemoteRepositoryDeploy(t *testing.T) {
	fake, server := newFakeRepository(t, "alice", "secret")

	repo, err := NewRemoteRepository("codemc", server.URL+"/repository/maven-releases", Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	repo.Client = server.Client()
	assert.Equal(t, server.URL+"/repository/maven-releases/", repo.Location())

	publisher := &Publisher{Now: func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }}
	pub := &Publication{Name: "mavenJava", Coordinates: testCoords, Artifact: writeArtifact(t, "jar bytes")}

	results, err := publisher.Publish(context.Background(), pub, []Repository{repo})
	require.NoError(t, err)
	require.Len(t, results, 1)

	prefix := "/repository/maven-releases/com/oop/memory-store/"
	assert.Equal(t, "jar bytes", string(fake.files[prefix+"1.9/memory-store-1.9.jar"]))
	assert.Equal(t, results[0].Checksums.SHA1, string(fake.files[prefix+"1.9/memory-store-1.9.jar.sha1"]))
	assert.Contains(t, string(fake.files[prefix+"1.9/memory-store-1.9.pom"]), "<artifactId>memory-store</artifactId>")
	assert.Contains(t, fake.files, prefix+"1.9/memory-store-1.9.pom.md5")
	assert.Contains(t, string(fake.files[prefix+"maven-metadata.xml"]), "<release>1.9</release>")
	assert.Contains(t, fake.files, prefix+"maven-metadata.xml.sha512")

	gets := 0
	for _, req := range fake.requests {
		if strings.HasPrefix(req, "GET ") {
			gets++
		}
	}
	assert.Equal(t, 1, gets)
	// jar + 4 checksums, pom + 4 checksums, metadata GET, metadata + 4 checksums
	assert.Len(t, fake.requests, 16)
}

func TestRemoteRepositoryMergesExistingMetadata(t *testing.T) {
	fake, server := newFakeRepository(t, "alice", "secret")

	existing := NewMetadata(testCoords)
	existing.AddVersion("1.8", time.Now())
	data, err := existing.Marshal()
	require.NoError(t, err)
	fake.files["/com/oop/memory-store/maven-metadata.xml"] = data

	repo, err := NewRemoteRepository("", server.URL, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "maven", repo.Name())

	pub := &Publication{Name: "mavenJava", Coordinates: testCoords, Artifact: writeArtifact(t, "x")}
	_, err = (&Publisher{}).Publish(context.Background(), pub, []Repository{repo})
	require.NoError(t, err)

	meta, err := ParseMetadata(fake.files["/com/oop/memory-store/maven-metadata.xml"], testCoords)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.8", "1.9"}, meta.Versioning.Versions)
}

func TestRemoteRepositoryUnauthorized(t *testing.T) {
	fake, server := newFakeRepository(t, "alice", "secret")

	repo, err := NewRemoteRepository("codemc", server.URL, Credentials{Username: "alice", Password: "wrong"})
	require.NoError(t, err)

	pub := &Publication{Name: "mavenJava", Coordinates: testCoords, Artifact: writeArtifact(t, "x")}
	_, err = (&Publisher{}).Publish(context.Background(), pub, []Repository{repo})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnauthorized))

	// the first rejected upload ends the deployment, nothing is retried
	assert.Len(t, fake.requests, 1)
}

func TestRemoteRepositoryServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo, err := NewRemoteRepository("broken", server.URL, Credentials{Username: "a", Password: "b"})
	require.NoError(t, err)

	pub := &Publication{Name: "mavenJava", Coordinates: testCoords, Artifact: writeArtifact(t, "x")}
	_, err = (&Publisher{}).Publish(context.Background(), pub, []Repository{repo})
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, 1, calls)
}

func TestNewRemoteRepositoryValidation(t *testing.T) {
	_, err := NewRemoteRepository("r", "https://repo.example.com/releases", Credentials{Username: "user"})
	assert.True(t, eris.Is(err, ErrMissingCredentials))

	_, err = NewRemoteRepository("r", "https://repo.example.com/releases", Credentials{Password: "pass"})
	assert.True(t, eris.Is(err, ErrMissingCredentials))

	_, err = NewRemoteRepository("r", "https://repo.example.com/releases", Credentials{})
	assert.True(t, eris.Is(err, ErrMissingCredentials))

	_, err = NewRemoteRepository("r", "ftp://repo.example.com/releases", Credentials{Username: "u", Password: "p"})
	assert.Error(t, err)

	_, err = NewRemoteRepository("r", "not a url at all", Credentials{Username: "u", Password: "p"})
	assert.Error(t, err)
}
