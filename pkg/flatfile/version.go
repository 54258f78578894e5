package flatfile

import (
	"errors"
	"strings"
)

// Format versions. Each adds fields to the object record.
const (
	VersionBase       = 1 // built-in attributes by number
	VersionZone       = 2 // + zone
	VersionTimestamps = 3 // + created/modified
	VersionInherit    = 4 // + owner-qualified attributes, parents, children, definitions
	VersionExtended   = 5 // + display name, fighting, powers

	CurrentVersion = VersionExtended
)

const (
	endMarker = "***END OF DUMP***"

	// newlineSentinel stands in for embedded newlines so that every string
	// occupies one line.
	newlineSentinel = "\x01"

	// MaxListLen bounds every counted list in a record.
	MaxListLen = 10000
)

var (
	ErrNoInput     = errors.New("flatfile: no input stream")
	ErrVersion     = errors.New("flatfile: unsupported format version")
	ErrMalformed   = errors.New("flatfile: malformed input")
	ErrListTooLong = errors.New("flatfile: list exceeds length limit")
	ErrTruncated   = errors.New("flatfile: unexpected end of input")
)

// layout records which optional fields a version carries.
type layout struct {
	version     int
	zone        bool
	timestamps  bool
	inheritance bool
	extended    bool
}

func layoutFor(v int) (layout, bool) {
	if v < VersionBase || v > CurrentVersion {
		return layout{}, false
	}
	return layout{
		version:     v,
		zone:        v >= VersionZone,
		timestamps:  v >= VersionTimestamps,
		inheritance: v >= VersionInherit,
		extended:    v >= VersionExtended,
	}, true
}

func encodeString(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", newlineSentinel)
}

func decodeString(s string) string {
	return strings.ReplaceAll(s, newlineSentinel, "\n")
}
