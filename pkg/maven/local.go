package maven

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const localMetadataName = "maven-metadata-local.xml"

// LocalRepository is a Maven repository on the local filesystem (usually ~/.m2/repository)
type LocalRepository struct {
	Root string
}

// DefaultLocalPath returns $HOME/.m2/repository
func DefaultLocalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to determine the home directory")
	}

	return filepath.Join(home, ".m2", "repository"), nil
}

// NewLocalRepository returns a LocalRepository rooted at root. An empty root selects DefaultLocalPath().
func NewLocalRepository(root string) (*LocalRepository, error) {
	if root == "" {
		var err error
		root, err = DefaultLocalPath()
		if err != nil {
			return nil, err
		}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", root)
	}

	return &LocalRepository{Root: root}, nil
}

func (r *LocalRepository) Name() string {
	return "mavenLocal"
}

func (r *LocalRepository) Location() string {
	return r.Root
}

// Deploy copies the artifact and POM into the version directory and updates maven-metadata-local.xml
func (r *LocalRepository) Deploy(ctx context.Context, d *Deployment) error {
	coords := d.Publication.Coordinates
	versionDir := filepath.Join(r.Root, filepath.FromSlash(coords.VersionDir()))

	err := os.MkdirAll(versionDir, 0755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", versionDir)
	}

	artifactPath := filepath.Join(versionDir, coords.FileName("", d.Publication.Extension()))
	zerolog.Ctx(ctx).Debug().Str("path", artifactPath).Msg("installing artifact")
	err = copyFile(d.Publication.Artifact, artifactPath)
	if err != nil {
		return err
	}

	pomPath := filepath.Join(versionDir, coords.FileName("", "pom"))
	err = writeFileAtomic(pomPath, d.POM)
	if err != nil {
		return err
	}

	metaPath := filepath.Join(r.Root, filepath.FromSlash(coords.ArtifactDir()), localMetadataName)
	var meta *Metadata
	data, err := ioutil.ReadFile(metaPath)
	switch {
	case err == nil:
		meta, err = ParseMetadata(data, coords)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", metaPath)
		}
	case eris.Is(err, os.ErrNotExist):
		meta = NewMetadata(coords)
	default:
		return eris.Wrapf(err, "failed to read %s", metaPath)
	}

	meta.AddVersion(coords.Version, d.Time)
	data, err = meta.Marshal()
	if err != nil {
		return err
	}

	return writeFileAtomic(metaPath, data)
}

func writeFileAtomic(dest string, data []byte) error {
	tmp, err := ioutil.TempFile(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return eris.Wrapf(err, "failed to create temporary file for %s", dest)
	}

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}

	if err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "failed to move %s into place", dest)
	}

	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	tmp, err := ioutil.TempFile(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return eris.Wrapf(err, "failed to create temporary file for %s", dest)
	}

	_, err = io.Copy(tmp, in)
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}

	if err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "failed to copy %s to %s", src, dest)
	}

	err = os.Chmod(tmp.Name(), 0644)
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "failed to move %s into place", dest)
	}

	return nil
}
