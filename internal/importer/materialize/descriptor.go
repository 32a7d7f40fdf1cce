// Package materialize turns a validated scene graph into de-duplicated,
// dependency-ordered native asset descriptors and hands them to the asset
// database one file-scoped transaction at a time.
package materialize

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// Kind is a native asset kind.
type Kind string

// Supported asset kinds.
const (
	KindStaticMesh       Kind = "StaticMesh"
	KindTexture2D        Kind = "Texture2D"
	KindMaterial         Kind = "Material"
	KindMaterialInstance Kind = "MaterialInstanceConstant"
)

// KindForClass maps a legacy or target class name to an asset kind.
func KindForClass(class string) (Kind, bool) {
	switch strings.ToLower(class) {
	case "staticmesh":
		return KindStaticMesh, true
	case "texture2d", "texture":
		return KindTexture2D, true
	case "material":
		return KindMaterial, true
	case "materialinstanceconstant", "materialinstance":
		return KindMaterialInstance, true
	}
	return "", false
}

// Descriptor is one to-be-created native asset.
type Descriptor struct {
	Fingerprint Fingerprint
	TargetPath  string
	Kind        Kind
	// Payload is the native asset encoding (see payload.go).
	Payload []byte
	// Dependencies lists the fingerprints of assets this one references.
	Dependencies []Fingerprint
	// Source is the legacy path, or the node ID for brush geometry.
	Source string
	// External marks a reference to an asset already present in the target
	// engine; Payload only names it.
	External bool
	// Deferred marks a duplicate of an asset another file claimed first.
	// It is written only when no file has committed the asset.
	Deferred bool
}

// Outcome is the report outcome of one attempted item.
type Outcome string

// Outcomes. Every attempted item ends in exactly one.
const (
	Created            Outcome = "Created"
	SkippedDuplicate   Outcome = "Skipped-duplicate"
	SkippedCollision   Outcome = "Skipped-collision"
	SkippedUnsupported Outcome = "Skipped-unsupported"
	SkippedFiltered    Outcome = "Skipped-filtered"
	// SkippedUnreferenced is a declared asset no scene node in the batch
	// uses.
	SkippedUnreferenced Outcome = "Skipped-unreferenced"
	Failed              Outcome = "Failed"
)

// Result records the outcome of one asset or node.
type Result struct {
	// Item is the legacy path of an asset or the ID of a node.
	Item        string
	TargetPath  string
	Kind        Kind
	Fingerprint Fingerprint
	Outcome     Outcome
	// Reason explains skipped outcomes.
	Reason string
	// Err is set for Failed outcomes.
	Err error
}

// Placement places a node in the world.
type Placement struct {
	NodeID string
	// Fingerprint is the placed asset; zero for lights and volumes.
	Fingerprint Fingerprint
	World       mgl64.Mat4
	Location    udk.Vector
}
