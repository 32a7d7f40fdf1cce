// Package resolve turns the stringly-typed references of a RawRecord forest
// into explicit AssetReference states in one dedicated pass.
package resolve

import (
	"strings"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// State is the resolution state of an AssetReference.
type State int

// Reference states. Unresolved never survives a completed Resolve.
const (
	Unresolved State = iota
	ResolvedLocal
	ResolvedExternal
	Missing
)

func (s State) String() string {
	switch s {
	case ResolvedLocal:
		return "ResolvedLocal"
	case ResolvedExternal:
		return "ResolvedExternal"
	case Missing:
		return "Missing"
	default:
		return "Unresolved"
	}
}

// MarshalText renders the state name in reports.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// AssetReference is a pointer from one record to an asset, identified by its
// legacy path.
type AssetReference struct {
	Path  string
	Class string
	State State
	// Local is the batch declaration index when State is ResolvedLocal.
	Local int
	// Target and TargetKind are set when State is ResolvedExternal.
	Target     string
	TargetKind string
}

// Record is a RawRecord paired with the resolution of each of its
// reference-typed properties.
type Record struct {
	Raw *udk.RawRecord
	// Refs is keyed by the index of the property in Raw.Props.
	Refs     map[int]*AssetReference
	Children []*Record
}

// Ref returns the reference held by the first reference-typed property with
// the given key.
func (r *Record) Ref(key string) (*AssetReference, bool) {
	for i, p := range r.Raw.Props {
		if p.Value.Kind != udk.KindReference {
			continue
		}
		if !strings.EqualFold(p.Key, key) {
			continue
		}
		ref, ok := r.Refs[i]
		return ref, ok
	}
	return nil, false
}

// Walk visits r and its descendants depth-first.
func (r *Record) Walk(fn func(*Record)) {
	fn(r)
	for _, c := range r.Children {
		c.Walk(fn)
	}
}

// Tally counts references by state across a resolved forest.
func Tally(forest []*Record) map[State]int {
	out := map[State]int{}
	for _, r := range forest {
		r.Walk(func(rec *Record) {
			for _, ref := range rec.Refs {
				out[ref.State]++
			}
		})
	}
	return out
}
