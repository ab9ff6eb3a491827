// Package model holds the data types shared across the cache engine:
// module coordinates, steps, fingerprints, build records and the error
// taxonomy every component reports through.
package model

import "strings"

// Coordinate identifies a module by (groupId, artifactId, version), the
// unit the cache operates on.
type Coordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// String returns the fully qualified "groupId:artifactId:version" form.
func (c Coordinate) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

// VersionlessKey returns "groupId:artifactId", used for cache reports and
// inter-run correlation where the version is not discriminating.
func (c Coordinate) VersionlessKey() string {
	return c.GroupID + ":" + c.ArtifactID
}

// ParseCoordinate parses a "groupId:artifactId:version" string. Fewer than
// three colon-separated fields yields a Coordinate with the trailing fields
// left empty; extra fields are rejoined into Version (e.g. classifiers some
// callers pass are tolerated, not split).
func ParseCoordinate(s string) Coordinate {
	parts := strings.SplitN(s, ":", 3)
	var c Coordinate
	if len(parts) > 0 {
		c.GroupID = parts[0]
	}
	if len(parts) > 1 {
		c.ArtifactID = parts[1]
	}
	if len(parts) > 2 {
		c.Version = parts[2]
	}
	return c
}
