package bootstrap

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/jveski/airlift/internal/host"
)

// ErrUnsupportedOS is returned for any host the bundle has no packages for.
var ErrUnsupportedOS = errors.New("unsupported operating system")

var supportedIDs = map[string]bool{
	"rhel":      true,
	"centos":    true,
	"rocky":     true,
	"almalinux": true,
	"ol":        true,
}

var supportedMajors = map[uint64]bool{8: true, 9: true}

// PackageFamily maps an os-release to the bundle's package subdirectory.
func PackageFamily(rel *host.OSRelease) (string, error) {
	if !supportedIDs[rel.ID] {
		return "", fmt.Errorf("%w: ID %q", ErrUnsupportedOS, rel.ID)
	}

	v, err := semver.NewVersion(rel.VersionID)
	if err != nil {
		return "", fmt.Errorf("%w: VERSION_ID %q: %s", ErrUnsupportedOS, rel.VersionID, err)
	}
	if !supportedMajors[v.Major()] {
		return "", fmt.Errorf("%w: %s %d", ErrUnsupportedOS, rel.ID, v.Major())
	}

	return fmt.Sprintf("el%d", v.Major()), nil
}
