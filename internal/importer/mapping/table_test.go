package mapping_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
)

const tableYAML = `
classes:
  StaticMeshActor: StaticMeshActor
  PointLight: PointLight
paths:
  - legacy: EngineContent.Mesh.Cube
    target: /Game/Imported/Cube
    kind: StaticMesh
packages:
  EngineContent: /Engine/Legacy
  EngineContent.Textures: /Engine/LegacyTextures/
default_material:
  legacy: EngineMaterials.DefaultMaterial
  target: /Engine/EngineMaterials/DefaultMaterial
`

func TestParse_Lookups(t *testing.T) {
	tbl, err := mapping.Parse([]byte(tableYAML))
	require.NoError(t, err)

	got, ok := tbl.TargetPath("EngineContent.Mesh.Cube", "StaticMesh")
	require.True(t, ok)
	assert.Equal(t, mapping.Target{Path: "/Game/Imported/Cube", Kind: "StaticMesh"}, got)

	got, ok = tbl.TargetPath("enginecontent.mesh.cube", "")
	require.True(t, ok, "legacy paths are case-insensitive")
	assert.Equal(t, "/Game/Imported/Cube", got.Path)

	got, ok = tbl.TargetPath("EngineMaterials.DefaultMaterial", "Material")
	require.True(t, ok)
	assert.Equal(t, mapping.Target{Path: "/Engine/EngineMaterials/DefaultMaterial", Kind: "Material"}, got)

	got, ok = tbl.TargetPath("EngineContent.Mesh.Sphere", "")
	require.True(t, ok)
	assert.Equal(t, "/Engine/Legacy/Mesh/Sphere", got.Path)

	got, ok = tbl.TargetPath("EngineContent.Textures.Wood", "")
	require.True(t, ok)
	assert.Equal(t, "/Engine/LegacyTextures/Wood", got.Path, "longest prefix wins")

	_, ok = tbl.TargetPath("EngineContentExtra.Foo", "")
	assert.False(t, ok, "prefixes match whole segments")

	_, ok = tbl.TargetPath("MyPackage.Mat.Grass", "Material")
	assert.False(t, ok)

	cls, ok := tbl.TargetClass("pointlight")
	require.True(t, ok)
	assert.Equal(t, "PointLight", cls)
	_, ok = tbl.TargetClass("Emitter")
	assert.False(t, ok)
}

func TestParse_ValidationCollectsAllErrors(t *testing.T) {
	_, err := mapping.Parse([]byte(`
paths:
  - legacy: ""
    target: Game/NoSlash
  - legacy: A.B
    target: /Game/B
  - legacy: A.B
    target: /Game/B2
packages:
  Pkg: relative
default_material:
  legacy: ""
  target: /ok
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "paths[0].legacy must not be empty")
	assert.Contains(t, msg, "paths[0].target must start with /")
	assert.Contains(t, msg, `paths[2].legacy "A.B" is mapped more than once`)
	assert.Contains(t, msg, "packages[Pkg] must start with /")
	assert.Contains(t, msg, "default_material.legacy must not be empty")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := mapping.Parse([]byte("classes: [unterminated"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tableYAML), 0o644))
	tbl, err := mapping.Load(path)
	require.NoError(t, err)
	_, ok := tbl.TargetClass("StaticMeshActor")
	assert.True(t, ok)

	_, err = mapping.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	tbl := mapping.Empty()
	_, ok := tbl.TargetPath("Any.Path", "")
	assert.False(t, ok)
	_, ok = tbl.TargetClass("StaticMeshActor")
	assert.False(t, ok)
}

type stubMapper struct{ path, class string }

func (s stubMapper) TargetPath(string, string) (mapping.Target, bool) {
	return mapping.Target{Path: s.path}, s.path != ""
}

func (s stubMapper) TargetClass(string) (string, bool) { return s.class, s.class != "" }

func TestChain(t *testing.T) {
	tbl, err := mapping.Parse([]byte(tableYAML))
	require.NoError(t, err)
	m := mapping.Chain(tbl, nil, stubMapper{path: "/Game/Scripted", class: "Scripted"})

	got, ok := m.TargetPath("EngineContent.Mesh.Cube", "")
	require.True(t, ok)
	assert.Equal(t, "/Game/Imported/Cube", got.Path, "table is consulted first")

	got, ok = m.TargetPath("Other.Thing", "")
	require.True(t, ok)
	assert.Equal(t, "/Game/Scripted", got.Path)

	cls, ok := m.TargetClass("Emitter")
	require.True(t, ok)
	assert.Equal(t, "Scripted", cls)
}
