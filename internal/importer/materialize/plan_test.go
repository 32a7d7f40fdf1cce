package materialize_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/importer/resolve"
	"github.com/cory-johannsen/udkimport/internal/importer/scene"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

const mappingYAML = `
paths:
  - legacy: EngineContent.Mesh.Cube
    target: /Game/Imported/Cube
    kind: StaticMesh
`

type source struct {
	id     string
	forest []*udk.RawRecord
}

func text(t require.TestingT, id, src string) source {
	forest, err := udk.ParseText([]byte(src))
	require.NoError(t, err)
	return source{id: id, forest: forest}
}

type batch struct {
	resolver *resolve.Resolver
	table    *materialize.FingerprintTable
	mapper   mapping.Mapper
}

func newBatch(t require.TestingT, sources ...source) *batch {
	tbl, err := mapping.Parse([]byte(mappingYAML))
	require.NoError(t, err)
	ix := resolve.NewIndex()
	for _, s := range sources {
		ix.Add(s.id, s.forest)
	}
	return &batch{resolver: resolve.New(ix, tbl), table: materialize.NewFingerprintTable(), mapper: tbl}
}

func (b *batch) plan(s source, filters materialize.Filters) *materialize.Plan {
	res := scene.Build(b.resolver.Resolve(s.forest), scene.Options{SourceID: s.id, Mapper: b.mapper})
	p := materialize.NewPlanner(b.resolver, b.mapper, b.table, materialize.PlanOptions{
		SourceID: s.id,
		Filters:  filters,
	})
	return p.Plan(res.Roots)
}

func outcomes(results []materialize.Result) map[string]materialize.Outcome {
	out := map[string]materialize.Outcome{}
	for _, r := range results {
		out[r.Item] = r.Outcome
	}
	return out
}

func TestPlan_CubeExample(t *testing.T) {
	s := text(t, "cube.t3d", `
Begin Actor Class=StaticMeshActor Name=Cube_0
   StaticMesh=StaticMesh'EngineContent.Mesh.Cube'
   Location=(X=1.0,Y=2.0,Z=3.0)
End Actor
`)
	plan := newBatch(t, s).plan(s, materialize.AllFilters())
	require.Len(t, plan.Descriptors, 1)
	d := plan.Descriptors[0]
	assert.Equal(t, materialize.KindStaticMesh, d.Kind)
	assert.Equal(t, "/Game/Imported/Cube", d.TargetPath)
	assert.True(t, d.External)
	assert.Contains(t, string(d.Payload), `"target":"/Game/Imported/Cube"`)
	assert.Empty(t, plan.Results)

	require.Len(t, plan.Placements, 1)
	assert.Equal(t, d.Fingerprint, plan.Placements[0].Fingerprint)
	assert.Equal(t, udk.Vector{X: 1, Y: 2, Z: 3}, plan.Placements[0].Location)
}

const materialAssets = `
Begin Texture2D Name=Wood ObjectPath="Props.Tex.Wood"
   SizeX=64
   SizeY=32
   SRGB=True
End Texture2D
Begin Material Name=WoodMat ObjectPath="Props.Mat.Wood"
   Diffuse=Texture2D'Props.Tex.Wood'
End Material
Begin StaticMesh Name=Crate ObjectPath="Props.Mesh.Crate"
   Materials(0)=Material'Props.Mat.Wood'
End StaticMesh
`

func TestPlan_DependencyOrder(t *testing.T) {
	assets := text(t, "assets.t3d", materialAssets)
	actors := text(t, "actors.t3d", `
Begin Actor Class=StaticMeshActor Name=Crate_0
   StaticMesh=StaticMesh'Props.Mesh.Crate'
End Actor
`)
	plan := newBatch(t, assets, actors).plan(actors, materialize.AllFilters())
	require.Len(t, plan.Descriptors, 3)

	paths := []string{plan.Descriptors[0].TargetPath, plan.Descriptors[1].TargetPath, plan.Descriptors[2].TargetPath}
	assert.Equal(t, []string{"/Game/Imported/Props/Tex/Wood", "/Game/Imported/Props/Mat/Wood", "/Game/Imported/Props/Mesh/Crate"}, paths)

	tex, mat, mesh := plan.Descriptors[0], plan.Descriptors[1], plan.Descriptors[2]
	assert.Equal(t, []materialize.Fingerprint{tex.Fingerprint}, mat.Dependencies)
	assert.Equal(t, []materialize.Fingerprint{mat.Fingerprint}, mesh.Dependencies)
	assert.Contains(t, string(mat.Payload), `"Diffuse":"/Game/Imported/Props/Tex/Wood"`)
	assert.Contains(t, string(mesh.Payload), `"materials":["/Game/Imported/Props/Mat/Wood"]`)
	assert.Contains(t, string(tex.Payload), `"width":64`)
	assert.Contains(t, string(tex.Payload), `"srgb":true`)
}

func TestPlan_CyclicDependencyFailsOnlyTheCycle(t *testing.T) {
	s := text(t, "cycle.t3d", `
Begin Material ObjectPath="M.A"
   Parent=Material'M.B'
End Material
Begin Material ObjectPath="M.B"
   Parent=Material'M.A'
End Material
Begin Texture2D ObjectPath="M.T"
End Texture2D
Begin StaticMesh ObjectPath="M.Mesh"
   Materials(0)=Material'M.A'
End StaticMesh
Begin StaticMesh ObjectPath="M.Plain"
   Materials(0)=Texture2D'M.T'
End StaticMesh
Begin Actor Class=StaticMeshActor Name=One
   StaticMesh=StaticMesh'M.Mesh'
End Actor
Begin Actor Class=StaticMeshActor Name=Two
   StaticMesh=StaticMesh'M.Plain'
End Actor
`)
	plan := newBatch(t, s).plan(s, materialize.AllFilters())

	var created []string
	for _, d := range plan.Descriptors {
		created = append(created, d.Source)
	}
	assert.Equal(t, []string{"M.T", "M.Plain"}, created)

	got := outcomes(plan.Results)
	for _, item := range []string{"M.A", "M.B", "M.Mesh"} {
		assert.Equal(t, materialize.Failed, got[item], item)
	}
	for _, r := range plan.Results {
		var ce *materialize.CycleError
		require.True(t, errors.As(r.Err, &ce))
		if r.Item == "M.A" {
			assert.Equal(t, []string{"M.A", "M.B", "M.A"}, ce.Cycle)
		}
	}
}

func TestPlan_DuplicateContentWithinBatch(t *testing.T) {
	assets := text(t, "assets.t3d", `
Begin StaticMesh ObjectPath="P.Rock"
   LightMapResolution=64
End StaticMesh
Begin StaticMesh ObjectPath="P.RockCopy"
   LightMapResolution=64
End StaticMesh
`)
	f1 := text(t, "one.t3d", `
Begin Actor Class=StaticMeshActor Name=A
   StaticMesh=StaticMesh'P.Rock'
End Actor
Begin Actor Class=StaticMeshActor Name=B
   StaticMesh=StaticMesh'P.Rock'
End Actor
`)
	f2 := text(t, "two.t3d", `
Begin Actor Class=StaticMeshActor Name=C
   StaticMesh=StaticMesh'P.RockCopy'
End Actor
`)
	b := newBatch(t, assets, f1, f2)
	p1 := b.plan(f1, materialize.AllFilters())
	p2 := b.plan(f2, materialize.AllFilters())

	require.Len(t, p1.Descriptors, 1)
	require.Len(t, p2.Descriptors, 1)
	d := p2.Descriptors[0]
	assert.True(t, d.Deferred, "one.t3d claimed the content first")
	assert.Equal(t, "P.RockCopy", d.Source)
	assert.Equal(t, "/Game/Imported/P/Rock", d.TargetPath)
	assert.Empty(t, p2.Results)
	assert.Equal(t, 1, p2.Estimated())
	assert.Equal(t, p1.Descriptors[0].Fingerprint, p2.Placements[0].Fingerprint)
	assert.Equal(t, 1, b.table.Len())

	b.table.Settle(d.Fingerprint, "one.t3d", "/Game/Imported/P/Rock")
	p3 := b.plan(f2, materialize.AllFilters())
	assert.Empty(t, p3.Descriptors)
	require.Len(t, p3.Results, 1)
	r := p3.Results[0]
	assert.Equal(t, materialize.SkippedDuplicate, r.Outcome)
	assert.Equal(t, "/Game/Imported/P/Rock", r.TargetPath)
	assert.Contains(t, r.Reason, "one.t3d")
}

func TestPlan_FailedDependencyFailsDependents(t *testing.T) {
	b := udk.NewPackageBuilder("Pkg", 868)
	b.AddExport("Bad", "Texture2D", 0, nil, []byte{1, 0})
	data, err := b.Bytes()
	require.NoError(t, err)
	forest, err := udk.ReadPackage(data, udk.PackageOptions{})
	require.NoError(t, err)
	pkg := source{id: "pkg.upk", forest: forest}
	s := text(t, "s.t3d", `
Begin Material ObjectPath="S.Mat"
   Diffuse=Texture2D'Pkg.Bad'
End Material
Begin Texture2D ObjectPath="S.Good"
   SizeX=8
End Texture2D
Begin StaticMesh ObjectPath="S.Mesh"
   Materials(0)=Material'S.Mat'
End StaticMesh
Begin StaticMesh ObjectPath="S.Other"
   Materials(0)=Texture2D'S.Good'
End StaticMesh
Begin Actor Class=StaticMeshActor Name=One
   StaticMesh=StaticMesh'S.Mesh'
End Actor
Begin Actor Class=StaticMeshActor Name=Two
   StaticMesh=StaticMesh'S.Other'
End Actor
`)
	plan := newBatch(t, pkg, s).plan(s, materialize.AllFilters())

	var planned []string
	for _, d := range plan.Descriptors {
		planned = append(planned, d.Source)
	}
	assert.Equal(t, []string{"S.Good", "S.Other"}, planned)

	got := map[string]materialize.Result{}
	for _, r := range plan.Results {
		got[r.Item] = r
	}
	var pe *materialize.PayloadError
	assert.True(t, errors.As(got["Pkg.Bad"].Err, &pe))
	for _, item := range []string{"S.Mat", "S.Mesh"} {
		r := got[item]
		assert.Equal(t, materialize.Failed, r.Outcome, item)
		var de *materialize.DependencyError
		require.True(t, errors.As(r.Err, &de), item)
	}
	var de *materialize.DependencyError
	require.True(t, errors.As(got["S.Mat"].Err, &de))
	assert.Equal(t, "Pkg.Bad", de.Dependency)
	assert.Contains(t, got["S.Mesh"].Err.Error(), "dependency S.Mat failed")
}

func TestPropertyDeduplication(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.IntRange(1, 12).Draw(rt, "k")
		files := rapid.IntRange(1, 3).Draw(rt, "files")
		var sources []source
		sources = append(sources, text(rt, "assets.t3d", "Begin StaticMesh ObjectPath=\"P.Shared\"\nEnd StaticMesh\n"))
		for f := 0; f < files; f++ {
			var sb strings.Builder
			for i := 0; i < k; i++ {
				fmt.Fprintf(&sb, "Begin Actor Class=StaticMeshActor Name=N%d\n StaticMesh=StaticMesh'P.Shared'\nEnd Actor\n", i)
			}
			sources = append(sources, text(rt, fmt.Sprintf("f%d.t3d", f), sb.String()))
		}
		b := newBatch(rt, sources...)
		count := 0
		var fp materialize.Fingerprint
		for _, s := range sources[1:] {
			p := b.plan(s, materialize.AllFilters())
			for _, d := range p.Owned() {
				count++
				fp = d.Fingerprint
			}
			for _, pl := range p.Placements {
				if pl.Fingerprint != fp {
					rt.Fatalf("placement %s points at %s, want %s", pl.NodeID, pl.Fingerprint.Short(), fp.Short())
				}
			}
		}
		if count != 1 {
			rt.Fatalf("%d descriptors for one shared payload", count)
		}
	})
}

func TestPlan_FiltersAndUnsupported(t *testing.T) {
	assets := text(t, "assets.t3d", materialAssets+`
Begin SoundCue ObjectPath="Snd.Boom"
End SoundCue
`)
	actors := text(t, "actors.t3d", `
Begin Actor Class=StaticMeshActor Name=Crate_0
   StaticMesh=StaticMesh'Props.Mesh.Crate'
End Actor
Begin Actor Class=StaticMeshActor Name=Noisy
   StaticMesh=StaticMesh'Snd.Boom'
End Actor
Begin Actor Class=PointLight Name=Lamp
End Actor
Begin Actor Class=Emitter Name=Smoke
End Actor
`)
	filters := materialize.AllFilters()
	filters.Textures = false
	filters.Lights = false
	plan := newBatch(t, assets, actors).plan(actors, filters)

	require.Len(t, plan.Descriptors, 2)
	got := outcomes(plan.Results)
	assert.Equal(t, materialize.SkippedFiltered, got["Props.Tex.Wood"])
	assert.Equal(t, materialize.SkippedUnsupported, got["Snd.Boom"])
	assert.Equal(t, materialize.SkippedFiltered, got["actors.t3d#3:Lamp"])
	assert.Equal(t, materialize.SkippedUnsupported, got["actors.t3d#4:Smoke"])
	assert.Contains(t, string(plan.Descriptors[0].Payload), `"parameters":{}`)
	assert.Len(t, plan.Placements, 2)
}

func TestPlan_BrushGeometry(t *testing.T) {
	s := text(t, "brush.t3d", `
Begin Actor Class=Brush Name=Floor
   Begin Brush Name=Model_1
      Begin PolyList
         Begin Polygon Texture=EngineMaterials.DefaultMaterial
            Vertex +0.0,+0.0,+0.0
            Vertex +1.0,+0.0,+0.0
            Vertex +1.0,+1.0,+0.0
            Vertex +0.0,+1.0,+0.0
         End Polygon
      End PolyList
   End Brush
End Actor
`)
	plan := newBatch(t, s).plan(s, materialize.AllFilters())
	require.Len(t, plan.Descriptors, 1)
	d := plan.Descriptors[0]
	assert.Equal(t, "/Game/Imported/Brushes/brush_Floor", d.TargetPath)
	assert.Contains(t, string(d.Payload), `"indices":[0,1,2,0,2,3]`)
	require.Len(t, plan.Placements, 1)
	assert.Equal(t, d.Fingerprint, plan.Placements[0].Fingerprint)
}

func TestPlan_MalformedPackagePayload(t *testing.T) {
	b := udk.NewPackageBuilder("Pkg", 868)
	b.AddExport("Broken", "StaticMesh", 0, nil, []byte{0xff, 0xff, 0xff, 0x7f})
	data, err := b.Bytes()
	require.NoError(t, err)
	forest, err := udk.ReadPackage(data, udk.PackageOptions{})
	require.NoError(t, err)
	pkg := source{id: "pkg.upk", forest: forest}
	actors := text(t, "a.t3d", "Begin Actor Class=StaticMeshActor Name=A\n StaticMesh=StaticMesh'Pkg.Broken'\nEnd Actor\n")

	plan := newBatch(t, pkg, actors).plan(actors, materialize.AllFilters())
	assert.Empty(t, plan.Descriptors)
	require.Len(t, plan.Results, 1)
	var pe *materialize.PayloadError
	assert.True(t, errors.As(plan.Results[0].Err, &pe))
}

func TestPlan_WorldTransformComposesParents(t *testing.T) {
	s := text(t, "nest.t3d", `
Begin Actor Class=PointLight Name=Parent
   Location=(X=100.0,Y=0.0,Z=0.0)
   Rotation=(Pitch=0,Yaw=16384,Roll=0)
   Begin Actor Class=PointLight Name=Child
      Location=(X=10.0,Y=0.0,Z=0.0)
   End Actor
End Actor
`)
	plan := newBatch(t, s).plan(s, materialize.AllFilters())
	require.Len(t, plan.Placements, 2)
	child := plan.Placements[1]
	assert.Equal(t, "nest.t3d#2:Child", child.NodeID)
	assert.InDelta(t, 100, child.Location.X, 1e-9)
	assert.InDelta(t, 10, child.Location.Y, 1e-9)
	assert.True(t, child.Fingerprint.IsZero())
}
