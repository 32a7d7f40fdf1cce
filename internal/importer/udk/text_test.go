package udk_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

const cubeScene = `
// exported from the legacy editor
Begin Map Name=TestMap
   Begin Level NAME=PersistentLevel
      Begin Actor Class=StaticMeshActor Name=StaticMeshActor_0
         Begin Object Class=StaticMeshComponent Name=StaticMeshComponent0
            StaticMesh=StaticMesh'EngineContent.Mesh.Cube'
         End Object
         Location=(X=128.0,Y=-64.5,Z=32.0)
         Rotation=(Pitch=0,Yaw=16384,Roll=0)
         DrawScale=1.5
         bHidden=False
         Tag="Crate Stack"
         CustomThing=SomeUnknownToken
      End Actor
   End Level
End Map
`

func TestParseText_CubeScene(t *testing.T) {
	forest, err := udk.ParseText([]byte(cubeScene))
	require.NoError(t, err)
	require.Len(t, forest, 1)

	m := forest[0]
	assert.Equal(t, "Map", m.Kind)
	assert.Equal(t, "TestMap", m.Name())
	require.Len(t, m.Children, 1)
	level := m.Children[0]
	require.Len(t, level.Children, 1)

	actor := level.Children[0]
	assert.Equal(t, "StaticMeshActor", actor.Class())
	assert.Equal(t, "StaticMeshActor_0", actor.Name())
	assert.Equal(t, 5, actor.Pos.Line)

	loc, ok := actor.Prop("Location")
	require.True(t, ok)
	assert.Equal(t, udk.KindVector, loc.Kind)
	assert.Equal(t, udk.Vector{X: 128, Y: -64.5, Z: 32}, loc.Vec)

	rot, ok := actor.Prop("rotation")
	require.True(t, ok)
	assert.Equal(t, udk.Rotator{Yaw: 16384}, rot.Rot)

	scale, _ := actor.Prop("DrawScale")
	assert.Equal(t, udk.KindFloat, scale.Kind)
	assert.InDelta(t, 1.5, scale.Float, 1e-9)

	hidden, _ := actor.Prop("bHidden")
	assert.Equal(t, udk.BoolValue(false), hidden)

	tag, _ := actor.Prop("Tag")
	assert.Equal(t, udk.StringValue("Crate Stack"), tag)

	custom, ok := actor.Prop("CustomThing")
	require.True(t, ok, "unknown keys are preserved")
	assert.Equal(t, udk.OpaqueValue("SomeUnknownToken"), custom)

	require.Len(t, actor.Children, 1)
	mesh, ok := actor.Children[0].Prop("StaticMesh")
	require.True(t, ok)
	assert.Equal(t, udk.ReferenceValue("StaticMesh", "EngineContent.Mesh.Cube"), mesh)
}

func TestParseText_SpacedPolygonVertices(t *testing.T) {
	src := "Begin Polygon\n  Origin   +00128.000000,-00064.000000,+00000.000000\n  Vertex   +1.0,+2.0,+3.0\n  Texture EngineMaterials.Default\nEnd Polygon\n"
	forest, err := udk.ParseText([]byte(src))
	require.NoError(t, err)
	require.Len(t, forest, 1)
	props := forest[0].Props
	require.Len(t, props, 3)
	assert.True(t, props[0].Spaced)
	assert.Equal(t, udk.Vector{X: 128, Y: -64, Z: 0}, props[0].Value.Vec)
	assert.Equal(t, udk.Vector{X: 1, Y: 2, Z: 3}, props[1].Value.Vec)
	assert.Equal(t, udk.OpaqueValue("EngineMaterials.Default"), props[2].Value)
}

func TestParseText_Errors(t *testing.T) {
	cases := []struct {
		name     string
		src      string
		line     int
		expected string
	}{
		{"property outside block", "Foo=1\n", 1, "Begin block"},
		{"mismatched end", "Begin Actor\nEnd Object\n", 2, "End Actor"},
		{"unterminated block", "Begin Actor\n  A=1\n", 2, "End Actor"},
		{"stray end", "End Actor\n", 1, "Begin block"},
		{"missing kind", "Begin\n", 1, "block kind after Begin"},
		{"int overflow", "Begin Actor\n  Count=4294967296\nEnd Actor\n", 2, "32-bit literal"},
		{"float overflow", "Begin Actor\n  Scale=1e39\nEnd Actor\n", 2, "32-bit literal"},
		{"unclosed header quote", "Begin Actor Name=\"abc\n", 1, "closed quote or parenthesis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := udk.ParseText([]byte(tc.src))
			require.Error(t, err)
			var pe *udk.ParseError
			require.True(t, errors.As(err, &pe), "want *ParseError, got %T", err)
			assert.Equal(t, tc.line, pe.Line)
			assert.Equal(t, tc.expected, pe.Expected)
			assert.NotEmpty(t, pe.Found)
		})
	}
}

func TestParseText_EndIsCaseInsensitive(t *testing.T) {
	forest, err := udk.ParseText([]byte("begin Actor\nEND actor\n"))
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Empty(t, forest[0].Props)
}

func TestParseText_EmptyInput(t *testing.T) {
	forest, err := udk.ParseText([]byte("\n   \n// nothing\n"))
	require.NoError(t, err)
	assert.Empty(t, forest)
}

func TestParseText_ObjectPathHeader(t *testing.T) {
	forest, err := udk.ParseText([]byte("Begin StaticMesh Name=Cube ObjectPath=\"EngineContent.Mesh.Cube\"\nEnd StaticMesh\n"))
	require.NoError(t, err)
	assert.Equal(t, "EngineContent.Mesh.Cube", forest[0].ObjectPath())
	assert.Equal(t, "StaticMesh", forest[0].Class())
}

func TestWriteText_RoundTripsFixture(t *testing.T) {
	forest, err := udk.ParseText([]byte(cubeScene))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, udk.WriteText(&buf, forest))
	again, err := udk.ParseText(buf.Bytes())
	require.NoError(t, err)
	if diff := cmp.Diff(forest, again, forestOpts...); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

var forestOpts = []cmp.Option{
	cmpopts.IgnoreFields(udk.RawRecord{}, "Pos"),
	cmpopts.EquateEmpty(),
}

func identifier(prefix string) *rapid.Generator[string] {
	return rapid.StringMatching(prefix + `[A-Za-z0-9_]{0,8}`)
}

func valueGen() *rapid.Generator[udk.Value] {
	return rapid.OneOf(
		rapid.Map(rapid.Int32(), udk.IntValue),
		rapid.Map(rapid.Float32Range(-1e6, 1e6), func(f float32) udk.Value { return udk.FloatValue(float64(f)) }),
		rapid.Map(rapid.Bool(), udk.BoolValue),
		rapid.Map(rapid.StringMatching(`[A-Za-z0-9 _.()'=\-"\\]{0,12}`), udk.StringValue),
		rapid.Map(identifier("Opq"), udk.OpaqueValue),
		rapid.Custom(func(t *rapid.T) udk.Value {
			return udk.VectorValue(
				float64(rapid.Float32Range(-1e4, 1e4).Draw(t, "x")),
				float64(rapid.Float32Range(-1e4, 1e4).Draw(t, "y")),
				float64(rapid.Float32Range(-1e4, 1e4).Draw(t, "z")),
			)
		}),
		rapid.Custom(func(t *rapid.T) udk.Value {
			return udk.RotatorValue(rapid.Int32().Draw(t, "p"), rapid.Int32().Draw(t, "y"), rapid.Int32().Draw(t, "r"))
		}),
		rapid.Custom(func(t *rapid.T) udk.Value {
			return udk.ReferenceValue(identifier("C").Draw(t, "class"), rapid.StringMatching(`[A-Za-z0-9_.]{1,20}`).Draw(t, "path"))
		}),
	)
}

func recordGen(depth int) *rapid.Generator[*udk.RawRecord] {
	return rapid.Custom(func(t *rapid.T) *udk.RawRecord {
		rec := &udk.RawRecord{Kind: identifier("R").Draw(t, "kind")}
		for i := rapid.IntRange(0, 2).Draw(t, "headers"); i > 0; i-- {
			rec.Props = append(rec.Props, udk.Property{Key: identifier("H").Draw(t, "hkey"), Value: valueGen().Draw(t, "hval"), Header: true})
		}
		for i := rapid.IntRange(0, 4).Draw(t, "props"); i > 0; i-- {
			if rapid.Bool().Draw(t, "spaced") {
				v := udk.VectorValue(
					float64(rapid.Float32Range(-1e4, 1e4).Draw(t, "vx")),
					float64(rapid.Float32Range(-1e4, 1e4).Draw(t, "vy")),
					float64(rapid.Float32Range(-1e4, 1e4).Draw(t, "vz")),
				)
				rec.Props = append(rec.Props, udk.Property{Key: identifier("V").Draw(t, "skey"), Value: v, Spaced: true})
				continue
			}
			rec.Props = append(rec.Props, udk.Property{Key: identifier("K").Draw(t, "key"), Value: valueGen().Draw(t, "val")})
		}
		if depth > 0 {
			for i := rapid.IntRange(0, 2).Draw(t, "children"); i > 0; i-- {
				rec.Children = append(rec.Children, recordGen(depth-1).Draw(t, "child"))
			}
		}
		return rec
	})
}

func TestPropertyTextRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		forest := rapid.SliceOfN(recordGen(2), 0, 3).Draw(t, "forest")
		out := udk.MarshalText(forest)
		again, err := udk.ParseText(out)
		if err != nil {
			t.Fatalf("reparse failed: %v\n%s", err, out)
		}
		if diff := cmp.Diff(forest, again, forestOpts...); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s\n%s", diff, out)
		}
	})
}
