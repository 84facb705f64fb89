package maven

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/oop/memory-store/build-tools/pkg"
)

const remoteMetadataName = "maven-metadata.xml"

// RemoteRepository uploads publications to an HTTP(S) Maven repository using PUT requests with basic auth.
// Failed requests are never retried.
type RemoteRepository struct {
	name        string
	base        *url.URL
	credentials Credentials

	Client    *http.Client
	UserAgent string
	Progress  bool
}

// NewRemoteRepository validates the URL and the credentials. Nothing is sent over the network.
func NewRemoteRepository(name, rawURL string, creds Credentials) (*RemoteRepository, error) {
	if name == "" {
		name = "maven"
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid URL %s for repository %s", rawURL, name)
	}

	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, eris.Errorf("repository %s needs an http(s) URL but got %s", name, rawURL)
	}

	err = creds.Validate()
	if err != nil {
		return nil, eris.Wrapf(err, "repository %s", name)
	}

	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &RemoteRepository{
		name:        name,
		base:        base,
		credentials: creds,
	}, nil
}

func (r *RemoteRepository) Name() string {
	return r.name
}

func (r *RemoteRepository) Location() string {
	return r.base.String()
}

// Deploy uploads the artifact, the POM, their checksums and finally the updated maven-metadata.xml
func (r *RemoteRepository) Deploy(ctx context.Context, d *Deployment) error {
	coords := d.Publication.Coordinates

	f, err := os.Open(d.Publication.Artifact)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", d.Publication.Artifact)
	}
	defer f.Close()

	artifactPath := coords.FilePath("", d.Publication.Extension())
	bar := pkg.NewProgressBar(d.Size, "       upload", r.Progress)
	err = r.put(ctx, artifactPath, io.TeeReader(f, bar), d.Size)
	bar.Finish()
	if err != nil {
		return err
	}

	err = r.putChecksums(ctx, artifactPath, d.Checksums)
	if err != nil {
		return err
	}

	err = r.putWithChecksums(ctx, coords.FilePath("", "pom"), d.POM)
	if err != nil {
		return err
	}

	metaPath := coords.ArtifactDir() + "/" + remoteMetadataName
	data, found, err := r.get(ctx, metaPath)
	if err != nil {
		return err
	}

	var meta *Metadata
	if found {
		meta, err = ParseMetadata(data, coords)
		if err != nil {
			return eris.Wrapf(err, "failed to read remote %s", metaPath)
		}
	} else {
		meta = NewMetadata(coords)
	}

	meta.AddVersion(coords.Version, d.Time)
	data, err = meta.Marshal()
	if err != nil {
		return err
	}

	return r.putWithChecksums(ctx, metaPath, data)
}

func (r *RemoteRepository) resolve(path string) string {
	ref := &url.URL{Path: path}
	return r.base.ResolveReference(ref).String()
}

func (r *RemoteRepository) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}

	return http.DefaultClient
}

func (r *RemoteRepository) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.resolve(path), body)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to build request for %s", path)
	}

	req.SetBasicAuth(r.credentials.Username, r.credentials.Password)
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	return req, nil
}

func (r *RemoteRepository) put(ctx context.Context, path string, body io.Reader, size int64) error {
	req, err := r.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	req.ContentLength = size

	zerolog.Ctx(ctx).Debug().Str("url", req.URL.String()).Int64("size", size).Msg("uploading")
	resp, err := r.client().Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to upload %s", req.URL)
	}
	defer resp.Body.Close()
	io.Copy(ioutil.Discard, resp.Body)

	return checkStatus(req, resp)
}

func (r *RemoteRepository) putWithChecksums(ctx context.Context, path string, data []byte) error {
	sums, err := ComputeChecksums(bytes.NewReader(data))
	if err != nil {
		return err
	}

	err = r.put(ctx, path, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	return r.putChecksums(ctx, path, sums)
}

func (r *RemoteRepository) putChecksums(ctx context.Context, path string, sums Checksums) error {
	for _, sum := range sums.Files() {
		err := r.put(ctx, path+"."+sum.Ext, strings.NewReader(sum.Value), int64(len(sum.Value)))
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *RemoteRepository) get(ctx context.Context, path string) ([]byte, bool, error) {
	req, err := r.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, false, eris.Wrapf(err, "failed to fetch %s", req.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}

	err = checkStatus(req, resp)
	if err != nil {
		return nil, false, err
	}

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, false, eris.Wrapf(err, "failed to read %s", req.URL)
	}

	return data, true, nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return eris.Wrapf(ErrUnauthorized, "%s %s: %s", req.Method, req.URL, resp.Status)
	default:
		return eris.Errorf("%s %s: unexpected status %s", req.Method, req.URL, resp.Status)
	}
}
