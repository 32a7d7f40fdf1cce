package scene

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
	"github.com/cory-johannsen/udkimport/internal/importer/resolve"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// DefaultLightIntensityMultiplier converts legacy Brightness to Intensity.
const DefaultLightIntensityMultiplier = 5000

// Options configures a Builder.
type Options struct {
	// SourceID prefixes every node ID.
	SourceID string
	// Mapper supplies target classes; classes missing from the closed table
	// are classified by their mapped target class.
	Mapper mapping.Mapper
	// LightIntensityMultiplier scales Brightness into Intensity. Zero
	// selects DefaultLightIntensityMultiplier.
	LightIntensityMultiplier float64
	// RequireMaterials makes Missing material references a validation
	// failure instead of a warning.
	RequireMaterials bool
	Logger           *zap.Logger
}

// Result is the outcome of building one file's scene graph.
type Result struct {
	// Roots holds every node that validated, with validated descendants.
	Roots []*Node
	// Failed holds one error per node that did not validate, in source order.
	Failed []*ValidationError
	// Warnings aggregates node warnings in source order.
	Warnings []string
}

// Nodes returns every built node, depth-first.
func (r *Result) Nodes() []*Node {
	var out []*Node
	for _, root := range r.Roots {
		root.Walk(nil, func(n, _ *Node) { out = append(out, n) })
	}
	return out
}

// Builder converts resolved records into scene nodes. A Builder is used for
// one file and is not safe for concurrent use.
type Builder struct {
	opts    Options
	logger  *zap.Logger
	ordinal int
	result  *Result
}

// NewBuilder returns a Builder.
func NewBuilder(opts Options) *Builder {
	if opts.Mapper == nil {
		opts.Mapper = mapping.Empty()
	}
	if opts.LightIntensityMultiplier == 0 {
		opts.LightIntensityMultiplier = DefaultLightIntensityMultiplier
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{opts: opts, logger: logger}
}

// Build walks the resolved forest. Actor records become nodes. Container
// records (maps, levels, packages, groups) and asset declarations are
// transparent; any other block outside an actor becomes an Unknown node so
// it is reported rather than dropped.
//
// Postcondition: each actor record yields exactly one built node or one
// ValidationError. Children of a failed node are reported failed too.
func (b *Builder) Build(forest []*resolve.Record) *Result {
	b.result = &Result{}
	b.ordinal = 0
	for _, rec := range forest {
		b.visit(rec, nil, "")
	}
	return b.result
}

// Build is NewBuilder(opts).Build(forest).
func Build(forest []*resolve.Record, opts Options) *Result {
	return NewBuilder(opts).Build(forest)
}

// visit handles a record outside any actor, or an actor nested in parent.
// failedAncestor names a failed enclosing node.
func (b *Builder) visit(rec *resolve.Record, parent *Node, failedAncestor string) {
	if !rec.Raw.IsKind("Actor") {
		if isBlock(rec.Raw) {
			b.block(rec.Raw, parent, failedAncestor)
		}
		for _, c := range rec.Children {
			b.visit(c, parent, failedAncestor)
		}
		return
	}

	node := b.newNode(rec.Raw)
	if failedAncestor != "" {
		b.fail(node, fmt.Sprintf("enclosing node %s failed validation", failedAncestor))
		b.visitChildren(rec, nil, node.ID)
		return
	}

	var nested []*resolve.Record
	b.absorb(node, rec, "", &nested)
	if err := b.validate(node, rec.Raw); err != nil {
		b.failWith(node, err)
		for _, c := range nested {
			b.visit(c, nil, node.ID)
		}
		return
	}

	b.result.Warnings = append(b.result.Warnings, node.Warnings...)
	b.attach(node, parent)
	for _, c := range nested {
		b.visit(c, node, "")
	}
}

// containerKinds never become nodes themselves.
var containerKinds = map[string]bool{
	"map":     true,
	"level":   true,
	"package": true,
	"group":   true,
	"folder":  true,
}

// isBlock reports whether a non-Actor record is a block the builder must
// account for: not a container and not an asset declaration, which the
// materializer reports.
func isBlock(raw *udk.RawRecord) bool {
	if containerKinds[strings.ToLower(raw.Kind)] {
		return false
	}
	return raw.ObjectPath() == ""
}

// block adds an Unknown node for a non-Actor block. Its children are
// visited by the caller.
func (b *Builder) block(raw *udk.RawRecord, parent *Node, failedAncestor string) {
	node := b.newNode(raw)
	node.Class = raw.Kind
	node.Type = Unknown
	node.Block = true
	if failedAncestor != "" {
		b.fail(node, fmt.Sprintf("enclosing node %s failed validation", failedAncestor))
		return
	}
	b.logger.Debug("non-actor block", zap.String("node", node.ID), zap.String("kind", raw.Kind))
	b.attach(node, parent)
}

func (b *Builder) attach(node *Node, parent *Node) {
	if parent == nil {
		b.result.Roots = append(b.result.Roots, node)
		return
	}
	parent.Children = append(parent.Children, node)
}

func (b *Builder) visitChildren(rec *resolve.Record, parent *Node, failedAncestor string) {
	var nested []*resolve.Record
	collectActors(rec, &nested)
	for _, c := range nested {
		b.visit(c, parent, failedAncestor)
	}
}

func collectActors(rec *resolve.Record, out *[]*resolve.Record) {
	for _, c := range rec.Children {
		if c.Raw.IsKind("Actor") {
			*out = append(*out, c)
			continue
		}
		collectActors(c, out)
	}
}

func (b *Builder) newNode(raw *udk.RawRecord) *Node {
	b.ordinal++
	class := raw.Class()
	name := raw.Name()
	if name == "" {
		name = fmt.Sprintf("%s_%d", class, b.ordinal)
	}
	node := &Node{
		ID:    fmt.Sprintf("%s#%d:%s", b.opts.SourceID, b.ordinal, name),
		Name:  name,
		Class: class,
		Local: Identity,
		Props: map[string]udk.Value{},
	}
	node.Type = Classify(class)
	if target, ok := b.opts.Mapper.TargetClass(class); ok {
		node.TargetClass = target
		if node.Type == Unknown {
			node.Type = Classify(target)
		}
	}
	return node
}

// absorb merges a record's properties and references into node. Object
// sub-records are components; Polygon records are brush faces; nested
// actors are deferred to nested; anything else is walked through.
func (b *Builder) absorb(node *Node, rec *resolve.Record, component string, nested *[]*resolve.Record) {
	for i, p := range rec.Raw.Props {
		if p.Header && component != "" {
			continue
		}
		key := p.Key
		if component != "" {
			key = component + "." + p.Key
		}
		if _, dup := node.Props[key]; !dup {
			node.Props[key] = p.Value
		}
		if ref, ok := rec.Refs[i]; ok {
			node.Refs = append(node.Refs, RefSlot{Key: p.Key, Component: component, Ref: ref})
		}
	}
	for _, c := range rec.Children {
		switch {
		case c.Raw.IsKind("Actor"):
			*nested = append(*nested, c)
		case c.Raw.IsKind("Object"):
			name := c.Raw.Name()
			if name == "" {
				name = c.Raw.Class()
			}
			b.absorb(node, c, name, nested)
		case c.Raw.IsKind("Polygon"):
			node.Polygons = append(node.Polygons, polygonFrom(c.Raw))
			collectActors(c, nested)
		default:
			b.absorb(node, c, component, nested)
		}
	}
}

func polygonFrom(raw *udk.RawRecord) Polygon {
	var poly Polygon
	for _, p := range raw.Props {
		switch {
		case strings.EqualFold(p.Key, "Vertex") && p.Value.Kind == udk.KindVector:
			poly.Vertices = append(poly.Vertices, p.Value.Vec)
		case strings.EqualFold(p.Key, "Texture"):
			poly.Texture = p.Value.Text()
		}
	}
	if v, ok := raw.Header("Texture"); ok && poly.Texture == "" {
		poly.Texture = v.Text()
	}
	return poly
}

func (b *Builder) fail(node *Node, reason string) {
	b.record(&ValidationError{NodeID: node.ID, Class: node.Class, Reason: reason})
}

func (b *Builder) failWith(node *Node, err error) {
	verr := &ValidationError{NodeID: node.ID, Class: node.Class, Reason: err.Error()}
	var missing *missingReferenceError
	if errors.As(err, &missing) {
		verr.Reference = missing.Key
	}
	b.record(verr)
}

func (b *Builder) record(verr *ValidationError) {
	b.result.Failed = append(b.result.Failed, verr)
	b.logger.Debug("node failed validation",
		zap.String("node", verr.NodeID),
		zap.String("class", verr.Class),
		zap.String("reason", verr.Reason),
	)
}

// validate applies the transform rules and the per-type schema.
func (b *Builder) validate(node *Node, raw *udk.RawRecord) error {
	t, err := transformFrom(raw)
	if err != nil {
		return err
	}
	node.Local = t

	for _, slot := range node.Refs {
		if !isMaterialKey(slot.Key) || slot.Ref.State != resolve.Missing {
			continue
		}
		if b.opts.RequireMaterials && node.Type != Unknown {
			return &missingReferenceError{Key: slot.Key, Path: slot.Ref.Path}
		}
		node.Warnings = append(node.Warnings,
			fmt.Sprintf("%s: optional reference %s %q is missing", node.ID, slot.Key, slot.Ref.Path))
	}

	switch node.Type {
	case StaticMeshActor:
		slot, ok := node.Ref("StaticMesh")
		if !ok {
			return &missingReferenceError{Key: "StaticMesh"}
		}
		if slot.Ref.State == resolve.Missing {
			return &missingReferenceError{Key: "StaticMesh", Path: slot.Ref.Path}
		}
	case Light:
		brightness := 1.0
		if v, ok := findProp(node, "Brightness"); ok {
			n, isNum := v.Number()
			if !isNum {
				return fmt.Errorf("property Brightness is %s, want number", v.Kind)
			}
			brightness = n
		}
		node.Props["Intensity"] = udk.FloatValue(brightness * b.opts.LightIntensityMultiplier)
	case Brush:
		faces := 0
		for _, p := range node.Polygons {
			if len(p.Vertices) >= 3 {
				faces++
			}
		}
		if faces == 0 {
			return fmt.Errorf("brush has no polygon with at least 3 vertices")
		}
	}
	return nil
}

// findProp looks up key on the actor, then on any component.
func findProp(node *Node, key string) (udk.Value, bool) {
	if v, ok := node.Props[key]; ok {
		return v, true
	}
	suffix := "." + strings.ToLower(key)
	keys := make([]string, 0, len(node.Props))
	for k := range node.Props {
		if strings.HasSuffix(strings.ToLower(k), suffix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return udk.Value{}, false
	}
	sort.Strings(keys)
	return node.Props[keys[0]], true
}

func isMaterialKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "material") || strings.HasPrefix(k, "overridematerial")
}
