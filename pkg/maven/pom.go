package maven

import (
	"encoding/xml"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	pomNamespace      = "http://maven.apache.org/POM/4.0.0"
	pomSchemaInstance = "http://www.w3.org/2001/XMLSchema-instance"
	pomSchemaLocation = "http://maven.apache.org/POM/4.0.0 https://maven.apache.org/xsd/maven-4.0.0.xsd"
)

// Publication describes one artifact and the coordinates it's published under
type Publication struct {
	Name        string
	Coordinates Coordinates
	Artifact    string
	Packaging   string
	Description string
}

// Validate checks the coordinates and the artifact reference. It doesn't touch the filesystem.
func (p *Publication) Validate() error {
	if p.Name == "" {
		return eris.New("publication name is empty")
	}

	if err := p.Coordinates.Validate(); err != nil {
		return eris.Wrapf(err, "publication %s", p.Name)
	}

	if p.Artifact == "" {
		return eris.Errorf("publication %s has no artifact", p.Name)
	}

	return nil
}

// Extension returns the artifact's file extension without the leading dot (defaults to "jar")
func (p *Publication) Extension() string {
	ext := strings.TrimPrefix(filepath.Ext(p.Artifact), ".")
	if ext == "" {
		return "jar"
	}

	return ext
}

// PackagingType returns the explicit packaging or derives it from the artifact extension
func (p *Publication) PackagingType() string {
	if p.Packaging != "" {
		return p.Packaging
	}

	return p.Extension()
}

type pomProject struct {
	XMLName        xml.Name `xml:"project"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsXsi       string   `xml:"xmlns:xsi,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`
	ModelVersion   string   `xml:"modelVersion"`
	GroupID        string   `xml:"groupId"`
	ArtifactID     string   `xml:"artifactId"`
	Version        string   `xml:"version"`
	Packaging      string   `xml:"packaging,omitempty"`
	Name           string   `xml:"name,omitempty"`
	Description    string   `xml:"description,omitempty"`
}

// GeneratePOM renders the POM file for the publication. The bundled artifact carries all of
// its dependencies, so the POM never lists any.
func GeneratePOM(p *Publication) ([]byte, error) {
	packaging := p.PackagingType()
	if packaging == "jar" {
		// jar is Maven's default
		packaging = ""
	}

	project := pomProject{
		Xmlns:          pomNamespace,
		XmlnsXsi:       pomSchemaInstance,
		SchemaLocation: pomSchemaLocation,
		ModelVersion:   "4.0.0",
		GroupID:        p.Coordinates.GroupID,
		ArtifactID:     p.Coordinates.ArtifactID,
		Version:        p.Coordinates.Version,
		Packaging:      packaging,
		Description:    p.Description,
	}

	data, err := xml.MarshalIndent(project, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode POM")
	}

	return append([]byte(xml.Header), append(data, '\n')...), nil
}
