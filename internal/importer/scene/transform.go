package scene

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// RotatorUnitsPerTurn is the legacy rotation resolution.
const RotatorUnitsPerTurn = 65536

// Transform is a node's local placement.
type Transform struct {
	Location udk.Vector
	Rotation udk.Rotator
	Scale    udk.Vector
}

// Identity is the transform of a node with no placement properties.
var Identity = Transform{Scale: udk.Vector{X: 1, Y: 1, Z: 1}}

// Matrix returns translate * rotate * scale. Yaw turns about Z, pitch about
// Y, roll about X.
func (t Transform) Matrix() mgl64.Mat4 {
	tr := mgl64.Translate3D(t.Location.X, t.Location.Y, t.Location.Z)
	rot := mgl64.HomogRotate3DZ(unitsToRadians(t.Rotation.Yaw)).
		Mul4(mgl64.HomogRotate3DY(unitsToRadians(t.Rotation.Pitch))).
		Mul4(mgl64.HomogRotate3DX(unitsToRadians(t.Rotation.Roll)))
	sc := mgl64.Scale3D(t.Scale.X, t.Scale.Y, t.Scale.Z)
	return tr.Mul4(rot).Mul4(sc)
}

func unitsToRadians(u int32) float64 {
	return float64(u) * 2 * math.Pi / RotatorUnitsPerTurn
}

// transformFrom reads Location, Rotation, DrawScale and DrawScale3D.
// Absent properties take identity values.
func transformFrom(rec *udk.RawRecord) (Transform, error) {
	t := Identity
	if v, ok := rec.Prop("Location"); ok {
		if v.Kind != udk.KindVector {
			return t, fmt.Errorf("malformed transform: Location is %s, want vector", v.Kind)
		}
		t.Location = v.Vec
	}
	if v, ok := rec.Prop("Rotation"); ok {
		if v.Kind != udk.KindRotator {
			return t, fmt.Errorf("malformed transform: Rotation is %s, want rotator", v.Kind)
		}
		t.Rotation = v.Rot
	}
	uniform := 1.0
	if v, ok := rec.Prop("DrawScale"); ok {
		n, isNum := v.Number()
		if !isNum {
			return t, fmt.Errorf("malformed transform: DrawScale is %s, want number", v.Kind)
		}
		uniform = n
	}
	if v, ok := rec.Prop("DrawScale3D"); ok {
		if v.Kind != udk.KindVector {
			return t, fmt.Errorf("malformed transform: DrawScale3D is %s, want vector", v.Kind)
		}
		t.Scale = v.Vec
	}
	t.Scale = udk.Vector{X: t.Scale.X * uniform, Y: t.Scale.Y * uniform, Z: t.Scale.Z * uniform}

	for _, c := range []float64{t.Location.X, t.Location.Y, t.Location.Z, t.Scale.X, t.Scale.Y, t.Scale.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return t, fmt.Errorf("malformed transform: non-finite component")
		}
	}
	if t.Scale.X == 0 || t.Scale.Y == 0 || t.Scale.Z == 0 {
		return t, fmt.Errorf("malformed transform: degenerate scale (%g, %g, %g)", t.Scale.X, t.Scale.Y, t.Scale.Z)
	}
	return t, nil
}
