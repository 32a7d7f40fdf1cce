// Package scene builds the typed, validated intermediate scene graph from a
// resolved record forest.
package scene

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/udkimport/internal/importer/resolve"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// NodeType is the closed set of scene node categories.
type NodeType int

// Node types. Unknown nodes are preserved for reporting but never
// materialized.
const (
	Unknown NodeType = iota
	StaticMeshActor
	Light
	Brush
	Volume
)

func (t NodeType) String() string {
	switch t {
	case StaticMeshActor:
		return "StaticMeshActor"
	case Light:
		return "Light"
	case Brush:
		return "Brush"
	case Volume:
		return "Volume"
	default:
		return "Unknown"
	}
}

// MarshalText renders the type name in reports.
func (t NodeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

var classTable = map[string]NodeType{
	"staticmeshactor":            StaticMeshActor,
	"interpactor":                StaticMeshActor,
	"kactor":                     StaticMeshActor,
	"pointlight":                 Light,
	"pointlightmovable":          Light,
	"pointlighttoggleable":       Light,
	"spotlight":                  Light,
	"spotlightmovable":           Light,
	"spotlighttoggleable":        Light,
	"directionallight":           Light,
	"directionallighttoggleable": Light,
	"skylight":                   Light,
	"brush":                      Brush,
	"blockingvolume":             Volume,
	"triggervolume":              Volume,
	"physicsvolume":              Volume,
	"postprocessvolume":          Volume,
	"lightmassimportancevolume":  Volume,
	"killzvolume":                Volume,
	"watervolume":                Volume,
}

// Classify matches a class name against the closed class table.
func Classify(class string) NodeType {
	return classTable[strings.ToLower(class)]
}

// RefSlot is one reference owned by a node. Component is the owning
// component name, empty for references set on the actor itself.
type RefSlot struct {
	Key       string
	Component string
	Ref       *resolve.AssetReference
}

// Polygon is one brush face in local space.
type Polygon struct {
	Vertices []udk.Vector
	Texture  string
}

// Node is one actor of the intermediate scene graph. Transforms are local;
// parents are never baked into children here.
type Node struct {
	ID          string
	Name        string
	Class       string
	TargetClass string
	Type        NodeType
	Local       Transform
	// Props holds the actor's properties plus component properties under
	// "<Component>.<Key>".
	Props    map[string]udk.Value
	Refs     []RefSlot
	Polygons []Polygon
	Children []*Node
	Warnings []string
	// Block marks a non-Actor block outside any actor. Block nodes are
	// always Unknown.
	Block bool
}

// Ref returns the first reference slot with the given key.
func (n *Node) Ref(key string) (RefSlot, bool) {
	for _, s := range n.Refs {
		if strings.EqualFold(s.Key, key) {
			return s, true
		}
	}
	return RefSlot{}, false
}

// Walk visits n and its descendants depth-first with each node's parent.
func (n *Node) Walk(parent *Node, fn func(node, parent *Node)) {
	fn(n, parent)
	for _, c := range n.Children {
		c.Walk(n, fn)
	}
}

// ValidationError is a node-level semantic defect.
type ValidationError struct {
	NodeID string
	Class  string
	Reason string
	// Reference names the mandatory reference slot whose absence or Missing
	// state failed the node; empty for other defects.
	Reference string
}

// missingReferenceError is a mandatory reference that is absent or did not
// resolve. Path is empty when the property itself is absent.
type missingReferenceError struct {
	Key  string
	Path string
}

func (e *missingReferenceError) Error() string {
	if e.Path == "" {
		return "missing mandatory reference " + e.Key
	}
	return fmt.Sprintf("mandatory reference %s %q is missing", e.Key, e.Path)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %s (%s): %s", e.NodeID, e.Class, e.Reason)
}
