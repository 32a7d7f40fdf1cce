package importer

import (
	"path/filepath"
	"strings"
)

// SourceIDFor converts a file path into a stable source identifier: the
// slash-separated path relative to root, or the cleaned path when it is not
// under root.
//
// Postcondition: result uses '/' separators and never starts with "./".
func SourceIDFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Clean(path)
	}
	return filepath.ToSlash(rel)
}
