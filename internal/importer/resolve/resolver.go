package resolve

import (
	"strings"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// Resolver resolves references against the batch index and a mapper.
type Resolver struct {
	index  *Index
	mapper mapping.Mapper
}

// New returns a Resolver. A nil mapper never matches.
func New(index *Index, mapper mapping.Mapper) *Resolver {
	if index == nil {
		index = NewIndex()
	}
	if mapper == nil {
		mapper = mapping.Empty()
	}
	return &Resolver{index: index, mapper: mapper}
}

// Resolve produces a resolved mirror of forest.
//
// Postcondition: every reference-typed property has an AssetReference in
// state ResolvedLocal, ResolvedExternal or Missing. Resolution never fails.
func (r *Resolver) Resolve(forest []*udk.RawRecord) []*Record {
	out := make([]*Record, 0, len(forest))
	for _, raw := range forest {
		out = append(out, r.ResolveRecord(raw))
	}
	return out
}

// ResolveRecord resolves one record and its descendants.
func (r *Resolver) ResolveRecord(raw *udk.RawRecord) *Record {
	rec := &Record{Raw: raw}
	for i, p := range raw.Props {
		if p.Value.Kind != udk.KindReference {
			continue
		}
		if rec.Refs == nil {
			rec.Refs = map[int]*AssetReference{}
		}
		rec.Refs[i] = r.Reference(p.Value.Ref)
	}
	for _, c := range raw.Children {
		rec.Children = append(rec.Children, r.ResolveRecord(c))
	}
	return rec
}

// Reference resolves a single reference literal: same-batch declaration by
// exact legacy path first, then the mapping table, otherwise Missing.
func (r *Resolver) Reference(ref udk.Reference) *AssetReference {
	out := &AssetReference{Path: ref.Path, Class: ref.Class, State: Unresolved}
	path := strings.TrimSpace(ref.Path)
	if path == "" || strings.EqualFold(path, "None") {
		out.State = Missing
		return out
	}
	if d, ok := r.index.Lookup(path); ok {
		out.State = ResolvedLocal
		out.Local = d.Index
		if out.Class == "" {
			out.Class = d.Class
		}
		return out
	}
	if t, ok := r.mapper.TargetPath(path, ref.Class); ok {
		out.State = ResolvedExternal
		out.Target = t.Path
		out.TargetKind = t.Kind
		return out
	}
	out.State = Missing
	return out
}

// Index exposes the batch index the resolver consults.
func (r *Resolver) Index() *Index { return r.index }
