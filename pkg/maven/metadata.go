package maven

import (
	"encoding/xml"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

const lastUpdatedFormat = "20060102150405"

// Metadata is the artifact level maven-metadata.xml (or maven-metadata-local.xml) document
type Metadata struct {
	XMLName      xml.Name   `xml:"metadata"`
	ModelVersion string     `xml:"modelVersion,attr,omitempty"`
	GroupID      string     `xml:"groupId"`
	ArtifactID   string     `xml:"artifactId"`
	Versioning   Versioning `xml:"versioning"`
}

type Versioning struct {
	Latest      string   `xml:"latest,omitempty"`
	Release     string   `xml:"release,omitempty"`
	Versions    []string `xml:"versions>version"`
	LastUpdated string   `xml:"lastUpdated,omitempty"`
}

// NewMetadata returns an empty document for the given artifact
func NewMetadata(c Coordinates) *Metadata {
	return &Metadata{
		ModelVersion: "1.1.0",
		GroupID:      c.GroupID,
		ArtifactID:   c.ArtifactID,
	}
}

// ParseMetadata decodes an existing document and checks that it belongs to the given artifact
func ParseMetadata(data []byte, c Coordinates) (*Metadata, error) {
	meta := new(Metadata)
	err := xml.Unmarshal(data, meta)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse maven metadata")
	}

	if meta.GroupID != c.GroupID || meta.ArtifactID != c.ArtifactID {
		return nil, eris.Errorf("maven metadata belongs to %s:%s instead of %s:%s", meta.GroupID, meta.ArtifactID,
			c.GroupID, c.ArtifactID)
	}

	if meta.ModelVersion == "" {
		meta.ModelVersion = "1.1.0"
	}

	return meta, nil
}

// AddVersion registers version (if it's missing), re-sorts the version list and updates latest, release
// and lastUpdated.
func (m *Metadata) AddVersion(version string, now time.Time) {
	found := false
	for _, v := range m.Versioning.Versions {
		if v == version {
			found = true
			break
		}
	}

	if !found {
		m.Versioning.Versions = append(m.Versioning.Versions, version)
	}

	sortVersions(m.Versioning.Versions)

	m.Versioning.Latest = ""
	m.Versioning.Release = ""
	if count := len(m.Versioning.Versions); count > 0 {
		m.Versioning.Latest = m.Versioning.Versions[count-1]
	}

	for idx := len(m.Versioning.Versions) - 1; idx >= 0; idx-- {
		if !IsSnapshot(m.Versioning.Versions[idx]) {
			m.Versioning.Release = m.Versioning.Versions[idx]
			break
		}
	}

	m.Versioning.LastUpdated = now.UTC().Format(lastUpdatedFormat)
}

// Marshal encodes the document including the XML header
func (m *Metadata) Marshal() ([]byte, error) {
	data, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode maven metadata")
	}

	return append([]byte(xml.Header), append(data, '\n')...), nil
}

// sortVersions orders semver compatible versions by precedence followed by all other versions in lexical order
func sortVersions(versions []string) {
	parsed := make(map[string]*semver.Version, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(strings.TrimSuffix(v, snapshotSuffix))
		if err == nil {
			parsed[v] = sv
		}
	}

	sort.SliceStable(versions, func(i, j int) bool {
		a, aOk := parsed[versions[i]]
		b, bOk := parsed[versions[j]]

		switch {
		case aOk && bOk:
			if cmp := a.Compare(b); cmp != 0 {
				return cmp < 0
			}
			// 1.0-SNAPSHOT sorts before 1.0
			aSnap := IsSnapshot(versions[i])
			bSnap := IsSnapshot(versions[j])
			if aSnap != bSnap {
				return aSnap
			}
			return versions[i] < versions[j]
		case aOk:
			return true
		case bOk:
			return false
		default:
			return versions[i] < versions[j]
		}
	})
}
