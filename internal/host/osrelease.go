package host

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const OSReleaseFile = "/etc/os-release"

// OSRelease holds the fields of os-release(5) this tool cares about.
type OSRelease struct {
	ID         string
	IDLike     []string
	VersionID  string
	PrettyName string
}

// ReadOSRelease parses the host's os-release file.
func (h *Host) ReadOSRelease() (*OSRelease, error) {
	buf, err := h.ReadFile(OSReleaseFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", OSReleaseFile, err)
	}
	return ParseOSRelease(buf), nil
}

func ParseOSRelease(buf []byte) *OSRelease {
	rel := &OSRelease{}
	scanner := bufio.NewScanner(bytes.NewReader(buf))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if unq, err := strconv.Unquote(val); err == nil {
			val = unq
		} else {
			val = strings.Trim(val, `'"`)
		}

		switch key {
		case "ID":
			rel.ID = strings.ToLower(val)
		case "ID_LIKE":
			rel.IDLike = strings.Fields(strings.ToLower(val))
		case "VERSION_ID":
			rel.VersionID = val
		case "PRETTY_NAME":
			rel.PrettyName = val
		}
	}
	return rel
}
