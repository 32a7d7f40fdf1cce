package udk

import (
	"errors"
	"fmt"
)

// ErrUnsupportedVersion is wrapped by every VersionError so callers can test
// with errors.Is.
var ErrUnsupportedVersion = errors.New("unsupported package version")

// ParseError reports malformed input. Offset is a byte offset into the source
// buffer; Line is 1-based for text input and 0 for binary input.
type ParseError struct {
	Offset   int
	Line     int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d (offset %d): expected %s, found %s",
			e.Line, e.Offset, e.Expected, e.Found)
	}
	return fmt.Sprintf("parse error at offset %d: expected %s, found %s",
		e.Offset, e.Expected, e.Found)
}

// VersionError reports a binary package whose header cannot be accepted:
// the magic is wrong, the header is truncated, or the version is outside the
// supported range.
type VersionError struct {
	Version  uint16
	Licensee uint16
	Min, Max uint16
	Reason   string
}

func (e *VersionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", ErrUnsupportedVersion, e.Reason)
	}
	return fmt.Sprintf("%s: version %d (licensee %d) outside supported range [%d, %d]",
		ErrUnsupportedVersion, e.Version, e.Licensee, e.Min, e.Max)
}

func (e *VersionError) Unwrap() error { return ErrUnsupportedVersion }
