// Package version carries the daemon release and the IPC protocol
// version, with parsing and compatibility helpers.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Name is the daemon product name.
	Name = "mixdeckd"

	// Version is the daemon release.
	Version = "0.4.1"

	// Protocol is the IPC protocol version spoken by this build.
	Protocol = "1.0"
)

// UserAgent returns the product identification string reported in
// DaemonInfo responses.
func UserAgent() string {
	return Name + "/" + Version
}

// ProtocolVersion is a parsed "major.minor" IPC protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major
// version. Minor revisions only add optional message fields.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}
