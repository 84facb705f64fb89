package maven

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePOM(t *testing.T) {
	pub := &Publication{
		Name:        "mavenJava",
		Coordinates: testCoords,
		Artifact:    "out/memory-store.jar",
		Description: "In-memory object store",
	}

	data, err := GeneratePOM(pub)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, xml.Header)
	assert.Contains(t, content, `xmlns="http://maven.apache.org/POM/4.0.0"`)
	assert.Contains(t, content, "<modelVersion>4.0.0</modelVersion>")
	assert.Contains(t, content, "<groupId>com.oop</groupId>")
	assert.Contains(t, content, "<artifactId>memory-store</artifactId>")
	assert.Contains(t, content, "<version>1.9</version>")
	assert.Contains(t, content, "<description>In-memory object store</description>")
	assert.NotContains(t, content, "<packaging>")

	again, err := GeneratePOM(pub)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestGeneratePOMPackaging(t *testing.T) {
	pub := &Publication{Name: "dist", Coordinates: testCoords, Artifact: "out/memory-store.zip"}
	assert.Equal(t, "zip", pub.Extension())

	data, err := GeneratePOM(pub)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<packaging>zip</packaging>")

	pub.Artifact = "out/memory-store"
	assert.Equal(t, "jar", pub.Extension())
}

func TestPublicationValidate(t *testing.T) {
	assert.Error(t, (&Publication{Coordinates: testCoords, Artifact: "a.jar"}).Validate())
	assert.Error(t, (&Publication{Name: "p", Coordinates: testCoords}).Validate())
	assert.Error(t, (&Publication{Name: "p", Artifact: "a.jar"}).Validate())
	assert.NoError(t, (&Publication{Name: "p", Coordinates: testCoords, Artifact: "a.jar"}).Validate())
}
