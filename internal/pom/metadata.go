package pom

import (
	"encoding/xml"
	"fmt"
)

// Metadata is the parsed shape of a maven-metadata.xml document, used to
// resolve a "-SNAPSHOT" version to its concrete, timestamped filename per
// spec §4.2 "Snapshot versions".
type Metadata struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Versioning struct {
		Snapshot struct {
			Timestamp string `xml:"timestamp"`
			BuildNumber string `xml:"buildNumber"`
		} `xml:"snapshot"`
		SnapshotVersions []SnapshotVersion `xml:"snapshotVersions>snapshotVersion"`
	} `xml:"versioning"`
}

// SnapshotVersion is one <snapshotVersion> entry: the concrete version
// string to use for a given artifact extension/classifier combination.
type SnapshotVersion struct {
	Classifier string `xml:"classifier"`
	Extension  string `xml:"extension"`
	Value      string `xml:"value"`
}

// ParseMetadata parses a maven-metadata.xml document.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := xml.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("pom: parse metadata: %w", err)
	}
	return m, nil
}

// ResolveSnapshotFilename returns the concrete snapshot version string to
// substitute into "name-version.ext" for the given extension and
// classifier, per spec §4.2: a unique snapshotVersion entry if published,
// otherwise the fallback "-SNAPSHOT" raw string (per Design Notes' resolved
// open question about missing metadata).
func (m Metadata) ResolveSnapshotFilename(extension, classifier, fallbackVersion string) string {
	for _, sv := range m.Versioning.SnapshotVersions {
		if sv.Extension == extension && sv.Classifier == classifier {
			return sv.Value
		}
	}
	if m.Versioning.Snapshot.Timestamp != "" && m.Versioning.Snapshot.BuildNumber != "" {
		return fmt.Sprintf("%s-%s", m.Versioning.Snapshot.Timestamp, m.Versioning.Snapshot.BuildNumber)
	}
	return fallbackVersion
}
