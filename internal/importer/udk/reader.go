package udk

import "fmt"

// Read parses data in the given format.
//
// Precondition: format is FormatText or FormatPackage.
// Postcondition: returns the RawRecord forest, a *ParseError, or an error
// wrapping ErrUnsupportedVersion.
func Read(data []byte, format Format, opts PackageOptions) ([]*RawRecord, error) {
	switch format {
	case FormatText:
		return ParseText(data)
	case FormatPackage:
		return ReadPackage(data, opts)
	}
	return nil, fmt.Errorf("%w: unknown source format %q", ErrUnsupportedVersion, format)
}
