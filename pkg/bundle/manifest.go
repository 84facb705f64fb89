package bundle

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	manifestName    = "META-INF/MANIFEST.MF"
	manifestLineLen = 72
)

// EncodeManifest renders a JAR manifest. Manifest-Version always comes first, the remaining attributes are
// sorted by name. Lines are wrapped at 72 bytes as required by the JAR file specification.
func EncodeManifest(attrs map[string]string) ([]byte, error) {
	names := make([]string, 0, len(attrs))
	for name, value := range attrs {
		if name == "" || strings.ContainsAny(name, ": \r\n") {
			return nil, eris.Errorf("invalid manifest attribute name %q", name)
		}

		if strings.ContainsAny(value, "\r\n") {
			return nil, eris.Errorf("manifest attribute %s contains a line break", name)
		}

		if name != "Manifest-Version" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	version, ok := attrs["Manifest-Version"]
	if !ok {
		version = "1.0"
	}

	buffer := strings.Builder{}
	writeManifestLine(&buffer, "Manifest-Version: "+version)
	for _, name := range names {
		writeManifestLine(&buffer, name+": "+attrs[name])
	}
	buffer.WriteString("\r\n")

	return []byte(buffer.String()), nil
}

func writeManifestLine(buffer *strings.Builder, line string) {
	limit := manifestLineLen
	for len(line) > limit {
		buffer.WriteString(line[:limit])
		buffer.WriteString("\r\n ")
		line = line[limit:]
		// continuation lines start with a space
		limit = manifestLineLen - 1
	}

	buffer.WriteString(line)
	buffer.WriteString("\r\n")
}
