package materialize

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
	"github.com/cory-johannsen/udkimport/internal/importer/resolve"
	"github.com/cory-johannsen/udkimport/internal/importer/scene"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// DefaultDestinationRoot prefixes target paths of locally declared assets.
const DefaultDestinationRoot = "/Game/Imported"

// Filters enables import per category.
type Filters struct {
	StaticMeshes bool
	Materials    bool
	Textures     bool
	Lights       bool
	Brushes      bool
}

// AllFilters enables every category.
func AllFilters() Filters {
	return Filters{StaticMeshes: true, Materials: true, Textures: true, Lights: true, Brushes: true}
}

func (f Filters) allows(k Kind) bool {
	switch k {
	case KindStaticMesh:
		return f.StaticMeshes
	case KindTexture2D:
		return f.Textures
	case KindMaterial, KindMaterialInstance:
		return f.Materials
	}
	return true
}

// PlanOptions configures a Planner.
type PlanOptions struct {
	SourceID        string
	DestinationRoot string
	Filters         Filters
	// AutoExportStaticMeshes plans every StaticMesh declared by this file,
	// placed or not.
	AutoExportStaticMeshes bool
	Logger                 *zap.Logger
}

// Plan is one file's materialization plan.
type Plan struct {
	SourceID string
	// Descriptors this file may write, dependencies before dependents.
	// Deferred descriptors duplicate an asset another file claimed first.
	Descriptors []*Descriptor
	// Results holds outcomes decided while planning: duplicates, filtered
	// and unsupported items, cycles, malformed payloads and assets whose
	// dependency failed.
	Results    []Result
	Placements []Placement
	Warnings   []string
	// Referenced holds the batch index of every declaration this plan
	// looked up, in ascending order.
	Referenced []int
}

// Planner builds Plans. The fingerprint table is shared across files; a
// Planner itself serves one file.
type Planner struct {
	resolver *resolve.Resolver
	mapper   mapping.Mapper
	table    *FingerprintTable
	opts     PlanOptions
	logger   *zap.Logger

	plan       *Plan
	vertices   []*vertex
	byKey      map[string]*vertex
	reported   map[string]bool
	referenced map[int]bool
}

type vertex struct {
	key      string
	source   string
	class    string
	kind     Kind
	fp       Fingerprint
	target   string
	external bool
	record   *udk.RawRecord
	brush    *scene.Node
	deps     []binding
}

// binding is a named dependency edge, e.g. a material's Diffuse texture.
type binding struct {
	name string
	dep  *vertex
}

// NewPlanner returns a Planner for opts.SourceID.
func NewPlanner(resolver *resolve.Resolver, mapper mapping.Mapper, table *FingerprintTable, opts PlanOptions) *Planner {
	if mapper == nil {
		mapper = mapping.Empty()
	}
	if opts.DestinationRoot == "" {
		opts.DestinationRoot = DefaultDestinationRoot
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{resolver: resolver, mapper: mapper, table: table, opts: opts, logger: logger}
}

// Plan walks the built scene graph, collects every referenced asset,
// orders them by dependency and de-duplicates them against the batch table.
//
// A fingerprint claimed by another file that has not committed it yet is
// planned as a Deferred descriptor: the Committer writes it only if no file
// has committed it by then, so a rolled-back owner cannot take the asset
// away from this file.
//
// Precondition: roots were built from records resolved by p's resolver.
// Postcondition: each distinct fingerprint is owned by at most one
// non-deferred descriptor across every Plan sharing the table, and an asset
// whose dependency failed is itself Failed.
func (p *Planner) Plan(roots []*scene.Node) *Plan {
	p.plan = &Plan{SourceID: p.opts.SourceID}
	p.vertices = nil
	p.byKey = map[string]*vertex{}
	p.reported = map[string]bool{}
	p.referenced = map[int]bool{}

	for _, root := range roots {
		p.placeNode(root, mgl64.Ident4())
	}
	if p.opts.AutoExportStaticMeshes {
		p.exportStaticMeshes()
	}
	for i := range p.referenced {
		p.plan.Referenced = append(p.plan.Referenced, i)
	}
	sort.Ints(p.plan.Referenced)

	order, cyclic := p.order()
	failed := make(map[*vertex]error, len(cyclic))
	for _, v := range cyclic {
		err := &CycleError{Path: v.source, Cycle: p.cycleFrom(v, cyclic)}
		p.fail(v, err)
		failed[v] = err
	}

	targets := map[*vertex]string{}
	for _, v := range order {
		if dep := failedDependency(v, failed); dep != nil {
			err := &DependencyError{Path: v.source, Dependency: dep.source, Err: failed[dep]}
			p.fail(v, err)
			failed[v] = err
			continue
		}
		payload, err := p.payload(v, targets)
		if err != nil {
			perr := &PayloadError{Path: v.source, Err: err}
			p.fail(v, perr)
			failed[v] = perr
			continue
		}
		owner, claimed := p.table.Claim(v.fp, Claim{SourceID: p.opts.SourceID, TargetPath: v.target})
		targets[v] = owner.TargetPath
		if !claimed && (owner.Committed || owner.SourceID == p.opts.SourceID) {
			p.plan.Results = append(p.plan.Results, Result{
				Item: v.source, TargetPath: owner.TargetPath, Kind: v.kind, Fingerprint: v.fp,
				Outcome: SkippedDuplicate,
				Reason:  fmt.Sprintf("identical to %s from %s", owner.TargetPath, owner.SourceID),
			})
			continue
		}
		d := &Descriptor{
			Fingerprint: v.fp,
			TargetPath:  owner.TargetPath,
			Kind:        v.kind,
			Payload:     payload,
			Source:      v.source,
			External:    v.external,
			Deferred:    !claimed,
		}
		for _, b := range v.deps {
			d.Dependencies = append(d.Dependencies, b.dep.fp)
		}
		p.plan.Descriptors = append(p.plan.Descriptors, d)
	}
	p.logger.Debug("planned file",
		zap.String("source", p.opts.SourceID),
		zap.Int("descriptors", len(p.plan.Descriptors)),
		zap.Int("results", len(p.plan.Results)),
		zap.Int("placements", len(p.plan.Placements)),
	)
	return p.plan
}

func (p *Planner) fail(v *vertex, err error) {
	p.plan.Results = append(p.plan.Results, Result{
		Item: v.source, TargetPath: v.target, Kind: v.kind, Fingerprint: v.fp,
		Outcome: Failed, Err: err,
	})
}

// failedDependency returns the first dependency of v that failed.
func failedDependency(v *vertex, failed map[*vertex]error) *vertex {
	for _, b := range v.deps {
		if _, ok := failed[b.dep]; ok {
			return b.dep
		}
	}
	return nil
}

func (p *Planner) placeNode(n *scene.Node, parent mgl64.Mat4) {
	world := parent.Mul4(n.Local.Matrix())
	placement := Placement{
		NodeID:   n.ID,
		World:    world,
		Location: udk.Vector{X: world.At(0, 3), Y: world.At(1, 3), Z: world.At(2, 3)},
	}
	place := true

	switch n.Type {
	case scene.Unknown:
		reason := fmt.Sprintf("class %s has no supported node type", n.Class)
		if n.Block {
			reason = fmt.Sprintf("%s block outside an Actor is not supported", n.Class)
		}
		p.plan.Results = append(p.plan.Results, Result{Item: n.ID, Outcome: SkippedUnsupported, Reason: reason})
		place = false
	case scene.Light:
		if !p.opts.Filters.Lights {
			p.filtered(n.ID, "", "lights are filtered")
			place = false
		}
	case scene.Brush:
		if !p.opts.Filters.Brushes {
			p.filtered(n.ID, "", "brushes are filtered")
			place = false
			break
		}
		if v := p.brushVertex(n); v != nil {
			placement.Fingerprint = v.fp
		}
	case scene.StaticMeshActor:
		if !p.opts.Filters.StaticMeshes {
			p.filtered(n.ID, "", "static meshes are filtered")
			place = false
			break
		}
		if slot, ok := n.Ref("StaticMesh"); ok {
			if v := p.require(slot.Ref, "StaticMesh"); v != nil {
				placement.Fingerprint = v.fp
			}
		}
		for _, slot := range n.Refs {
			if isMaterialSlot(slot.Key) {
				p.require(slot.Ref, "Material")
			}
		}
	}
	if place {
		p.plan.Placements = append(p.plan.Placements, placement)
	}
	for _, c := range n.Children {
		p.placeNode(c, world)
	}
}

func (p *Planner) filtered(item string, kind Kind, reason string) {
	p.plan.Results = append(p.plan.Results, Result{Item: item, Kind: kind, Outcome: SkippedFiltered, Reason: reason})
}

// require returns the vertex for ref, creating it (and its dependencies) on
// first use. It returns nil for Missing references and for unsupported or
// filtered assets, which are reported once.
func (p *Planner) require(ref *resolve.AssetReference, wantClass string) *vertex {
	switch ref.State {
	case resolve.ResolvedLocal:
		return p.localVertex(ref)
	case resolve.ResolvedExternal:
		return p.externalVertex(ref, wantClass)
	}
	return nil
}

// exportStaticMeshes requires every StaticMesh this file declares.
func (p *Planner) exportStaticMeshes() {
	ix := p.resolver.Index()
	for i := 0; i < ix.Len(); i++ {
		decl := ix.Declaration(i)
		if decl.SourceID != p.opts.SourceID {
			continue
		}
		if kind, ok := KindForClass(decl.Class); !ok || kind != KindStaticMesh {
			continue
		}
		p.require(p.resolver.Reference(udk.Reference{Class: decl.Class, Path: decl.Path}), "StaticMesh")
	}
}

func (p *Planner) localVertex(ref *resolve.AssetReference) *vertex {
	decl := p.resolver.Index().Declaration(ref.Local)
	p.referenced[decl.Index] = true
	key := "local:" + strings.ToLower(decl.Path)
	if v, ok := p.byKey[key]; ok {
		return v
	}
	kind, ok := KindForClass(decl.Class)
	if !ok {
		p.reportOnce(key, Result{Item: decl.Path, Outcome: SkippedUnsupported,
			Reason: (&UnsupportedError{Path: decl.Path, Class: decl.Class}).Error()})
		return nil
	}
	if !p.opts.Filters.allows(kind) {
		p.reportOnce(key, Result{Item: decl.Path, Kind: kind, Outcome: SkippedFiltered,
			Reason: fmt.Sprintf("%s assets are filtered", kind)})
		return nil
	}
	target := p.localTarget(decl.Path, decl.Class)
	v := &vertex{
		key:    key,
		source: decl.Path,
		class:  decl.Class,
		kind:   kind,
		fp:     RecordFingerprint(kind, decl.Record),
		target: target,
		record: decl.Record,
	}
	p.add(v)

	resolved := p.resolver.ResolveRecord(decl.Record)
	for i, prop := range decl.Record.Props {
		ref, ok := resolved.Refs[i]
		if !ok {
			continue
		}
		if dep := p.require(ref, ref.Class); dep != nil {
			v.deps = append(v.deps, binding{name: prop.Key, dep: dep})
		} else if ref.State == resolve.Missing {
			p.plan.Warnings = append(p.plan.Warnings,
				fmt.Sprintf("asset %s: reference %s %q is missing", decl.Path, prop.Key, ref.Path))
		}
	}
	return v
}

func (p *Planner) externalVertex(ref *resolve.AssetReference, wantClass string) *vertex {
	key := "external:" + strings.ToLower(ref.Target)
	if v, ok := p.byKey[key]; ok {
		return v
	}
	kind, ok := KindForClass(ref.TargetKind)
	if !ok {
		kind, ok = KindForClass(ref.Class)
	}
	if !ok {
		kind, ok = KindForClass(wantClass)
	}
	if !ok {
		p.reportOnce(key, Result{Item: ref.Path, TargetPath: ref.Target, Outcome: SkippedUnsupported,
			Reason: (&UnsupportedError{Path: ref.Path, Class: ref.Class}).Error()})
		return nil
	}
	if !p.opts.Filters.allows(kind) {
		p.reportOnce(key, Result{Item: ref.Path, TargetPath: ref.Target, Kind: kind, Outcome: SkippedFiltered,
			Reason: fmt.Sprintf("%s assets are filtered", kind)})
		return nil
	}
	v := &vertex{
		key:      key,
		source:   ref.Path,
		class:    ref.Class,
		kind:     kind,
		fp:       ExternalFingerprint(kind, ref.Target),
		target:   ref.Target,
		external: true,
	}
	p.add(v)
	return v
}

func (p *Planner) brushVertex(n *scene.Node) *vertex {
	geometry := TriangulateBrush(n.Polygons)
	v := &vertex{
		key:    "brush:" + n.ID,
		source: n.ID,
		class:  n.Class,
		kind:   KindStaticMesh,
		target: p.brushTarget(n),
		brush:  n,
	}
	var materials []byte
	for _, tex := range brushMaterials(n.Polygons) {
		ref := p.resolver.Reference(udk.Reference{Class: "Material", Path: tex})
		if dep := p.require(ref, "Material"); dep != nil {
			v.deps = append(v.deps, binding{name: "Material", dep: dep})
			materials = append(materials, dep.fp[:]...)
		}
	}
	v.fp = hashParts([]byte("brush"), EncodeMesh(geometry), materials)
	p.add(v)
	return v
}

func (p *Planner) add(v *vertex) {
	p.byKey[v.key] = v
	p.vertices = append(p.vertices, v)
}

func (p *Planner) reportOnce(key string, r Result) {
	if p.reported[key] {
		return
	}
	p.reported[key] = true
	p.plan.Results = append(p.plan.Results, r)
}

func (p *Planner) localTarget(legacyPath, class string) string {
	if t, ok := p.mapper.TargetPath(legacyPath, class); ok {
		return t.Path
	}
	return joinTarget(p.opts.DestinationRoot, strings.Split(legacyPath, ".")...)
}

func (p *Planner) brushTarget(n *scene.Node) string {
	base := path.Base(strings.ReplaceAll(p.opts.SourceID, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	return joinTarget(p.opts.DestinationRoot, "Brushes", base+"_"+n.Name)
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

func joinTarget(root string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(root, "/"))
	for _, s := range segments {
		if s == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(unsafeSegment.ReplaceAllString(s, "_"))
	}
	return b.String()
}

// order is Kahn's algorithm over dependency edges with ties broken by
// discovery order. Vertices left over are on or behind a cycle.
func (p *Planner) order() (ordered, cyclic []*vertex) {
	indeg := make(map[*vertex]int, len(p.vertices))
	dependents := make(map[*vertex][]*vertex, len(p.vertices))
	for _, v := range p.vertices {
		for _, b := range v.deps {
			indeg[v]++
			dependents[b.dep] = append(dependents[b.dep], v)
		}
	}
	var queue []*vertex
	for _, v := range p.vertices {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}
	done := make(map[*vertex]bool, len(p.vertices))
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		ordered = append(ordered, v)
		done[v] = true
		for _, d := range dependents[v] {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	for _, v := range p.vertices {
		if !done[v] {
			cyclic = append(cyclic, v)
		}
	}
	return ordered, cyclic
}

// cycleFrom follows unfinished dependencies from v until a vertex repeats
// and returns the cycle's source names.
func (p *Planner) cycleFrom(v *vertex, cyclic []*vertex) []string {
	pending := make(map[*vertex]bool, len(cyclic))
	for _, c := range cyclic {
		pending[c] = true
	}
	seenAt := map[*vertex]int{}
	var walk []*vertex
	cur := v
	for cur != nil {
		if i, ok := seenAt[cur]; ok {
			var out []string
			for _, w := range walk[i:] {
				out = append(out, w.source)
			}
			return append(out, cur.source)
		}
		seenAt[cur] = len(walk)
		walk = append(walk, cur)
		var next *vertex
		for _, b := range cur.deps {
			if pending[b.dep] {
				next = b.dep
				break
			}
		}
		cur = next
	}
	return []string{v.source}
}

// payload builds the native encoding of v. targets maps already ordered
// vertices to their final target path.
func (p *Planner) payload(v *vertex, targets map[*vertex]string) ([]byte, error) {
	depTarget := func(b binding) string {
		if t, ok := targets[b.dep]; ok {
			return t
		}
		return b.dep.target
	}
	if v.external {
		return encodePayload(ExternalAsset{Legacy: v.source, Target: v.target, Kind: v.kind})
	}
	switch v.kind {
	case KindStaticMesh:
		var g MeshGeometry
		if v.brush != nil {
			g = TriangulateBrush(v.brush.Polygons)
		} else {
			var err error
			if g, err = DecodeMesh(v.record.Payload); err != nil {
				return nil, err
			}
		}
		for _, b := range v.deps {
			if b.dep.kind == KindMaterial || b.dep.kind == KindMaterialInstance {
				g.Materials = append(g.Materials, depTarget(b))
			}
		}
		return encodePayload(g)
	case KindTexture2D:
		t, err := DecodeTexture(v.record)
		if err != nil {
			return nil, err
		}
		return encodePayload(t)
	default:
		graph := MaterialGraph{Parameters: map[string]string{}, Instance: v.kind == KindMaterialInstance}
		for _, b := range v.deps {
			if strings.EqualFold(b.name, "Parent") {
				graph.Parent = depTarget(b)
				continue
			}
			graph.Parameters[b.name] = depTarget(b)
		}
		return encodePayload(graph)
	}
}

func isMaterialSlot(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "material") || strings.HasPrefix(k, "overridematerial")
}

// Estimated is the number of descriptors this plan hands to the Committer,
// deferred ones included.
func (p *Plan) Estimated() int { return len(p.Descriptors) }

// Owned returns the non-deferred descriptors.
func (p *Plan) Owned() []*Descriptor {
	var out []*Descriptor
	for _, d := range p.Descriptors {
		if !d.Deferred {
			out = append(out, d)
		}
	}
	return out
}
