package resolve

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// Declaration is a record in the batch that declares a legacy path.
type Declaration struct {
	Index    int
	Path     string
	Class    string
	SourceID string
	Record   *udk.RawRecord
}

// Index maps legacy paths declared anywhere in the batch to their first
// declaration. Build it sequentially in input order; it is read-only (and
// safe for concurrent lookups) once resolution starts.
type Index struct {
	decls  []Declaration
	byPath map[string]int
}

// NewIndex returns an empty batch index.
func NewIndex() *Index {
	return &Index{byPath: map[string]int{}}
}

// Add registers every path-declaring record of one source file.
//
// Postcondition: a path already declared keeps its first declaration; each
// such duplicate yields one warning.
func (ix *Index) Add(sourceID string, forest []*udk.RawRecord) []string {
	var warnings []string
	udk.WalkForest(forest, func(r *udk.RawRecord) bool {
		path := r.ObjectPath()
		if path == "" {
			return true
		}
		key := strings.ToLower(path)
		if first, dup := ix.byPath[key]; dup {
			prev := ix.decls[first]
			warnings = append(warnings, fmt.Sprintf(
				"legacy path %q declared again in %s (line %d, offset %d); keeping the declaration from %s",
				path, sourceID, r.Pos.Line, r.Pos.Offset, prev.SourceID))
			return true
		}
		d := Declaration{Index: len(ix.decls), Path: path, Class: r.Class(), SourceID: sourceID, Record: r}
		ix.decls = append(ix.decls, d)
		ix.byPath[key] = d.Index
		return true
	})
	return warnings
}

// Lookup finds the declaration of path (case-insensitive).
func (ix *Index) Lookup(path string) (Declaration, bool) {
	i, ok := ix.byPath[strings.ToLower(path)]
	if !ok {
		return Declaration{}, false
	}
	return ix.decls[i], true
}

// Declaration returns the declaration with the given index.
//
// Precondition: 0 <= i < Len().
func (ix *Index) Declaration(i int) Declaration { return ix.decls[i] }

// Len is the number of distinct declared paths.
func (ix *Index) Len() int { return len(ix.decls) }
