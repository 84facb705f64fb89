package maven

import (
	"path"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidCoordinates is returned for group, artifact or version values that can't be mapped to a repository path
	ErrInvalidCoordinates = eris.New("invalid coordinates")

	idPattern      = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9_.+\-]+$`)
)

// Coordinates identify a published artifact in a Maven repository
type Coordinates struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// Validate checks that all three parts are present and safe to use as path segments
func (c Coordinates) Validate() error {
	if !idPattern.MatchString(c.GroupID) || strings.Contains(c.GroupID, "..") {
		return eris.Wrapf(ErrInvalidCoordinates, "group id %q", c.GroupID)
	}

	if !idPattern.MatchString(c.ArtifactID) || strings.HasPrefix(c.ArtifactID, ".") {
		return eris.Wrapf(ErrInvalidCoordinates, "artifact id %q", c.ArtifactID)
	}

	if !versionPattern.MatchString(c.Version) || strings.HasPrefix(c.Version, ".") {
		return eris.Wrapf(ErrInvalidCoordinates, "version %q", c.Version)
	}

	return nil
}

func (c Coordinates) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

const snapshotSuffix = "-SNAPSHOT"

// IsSnapshot reports whether version is a development version (ends with -SNAPSHOT)
func IsSnapshot(version string) bool {
	return strings.HasSuffix(version, snapshotSuffix)
}

// ArtifactDir returns the slash separated directory containing all versions of the artifact (i.e. com/oop/memory-store)
func (c Coordinates) ArtifactDir() string {
	return path.Join(strings.ReplaceAll(c.GroupID, ".", "/"), c.ArtifactID)
}

// VersionDir returns the slash separated directory for this version (i.e. com/oop/memory-store/1.9)
func (c Coordinates) VersionDir() string {
	return path.Join(c.ArtifactDir(), c.Version)
}

// FileName returns the file name for the given classifier and extension (i.e. memory-store-1.9.jar)
func (c Coordinates) FileName(classifier, ext string) string {
	name := c.ArtifactID + "-" + c.Version
	if classifier != "" {
		name += "-" + classifier
	}

	return name + "." + strings.TrimPrefix(ext, ".")
}

// FilePath combines VersionDir and FileName
func (c Coordinates) FilePath(classifier, ext string) string {
	return path.Join(c.VersionDir(), c.FileName(classifier, ext))
}
