package materialize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cory-johannsen/udkimport/internal/importer/scene"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MeshGeometry is the native static mesh payload.
type MeshGeometry struct {
	Vertices [][3]float32 `json:"vertices"`
	Indices  []uint32     `json:"indices"`
	// Materials lists target paths of the mesh's material slots.
	Materials []string `json:"materials,omitempty"`
}

// Texture formats in the legacy payload header.
var textureFormats = []string{"DXT1", "DXT5", "RGBA8", "G8"}

// TextureParams is the native texture import payload.
type TextureParams struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Format string `json:"format"`
	Mips   uint8  `json:"mips"`
	SRGB   bool   `json:"srgb"`
	// Data holds the raw mip chain.
	Data []byte `json:"data,omitempty"`
}

// MaterialGraph is the native material skeleton: named texture parameters
// bound to target asset paths.
type MaterialGraph struct {
	Parent     string            `json:"parent,omitempty"`
	Parameters map[string]string `json:"parameters"`
	Instance   bool              `json:"instance,omitempty"`
}

// ExternalAsset names an asset that already exists in the target engine.
type ExternalAsset struct {
	Legacy string `json:"legacy"`
	Target string `json:"target"`
	Kind   Kind   `json:"kind"`
}

var errTruncated = errors.New("truncated")

// DecodeMesh reads the legacy mesh payload: u32 vertex count, vertices as
// three f32 each, u32 index count, u32 indices. An empty payload is an
// empty mesh.
func DecodeMesh(payload []byte) (MeshGeometry, error) {
	var g MeshGeometry
	if len(payload) == 0 {
		return g, nil
	}
	r := payloadReader{data: payload}
	nv, err := r.u32()
	if err != nil {
		return g, fmt.Errorf("vertex count: %w", err)
	}
	if uint64(nv)*12 > uint64(r.remaining()) {
		return g, fmt.Errorf("%d vertices: %w", nv, errTruncated)
	}
	g.Vertices = make([][3]float32, nv)
	for i := range g.Vertices {
		for j := 0; j < 3; j++ {
			bits, _ := r.u32()
			g.Vertices[i][j] = math.Float32frombits(bits)
		}
	}
	ni, err := r.u32()
	if err != nil {
		return g, fmt.Errorf("index count: %w", err)
	}
	if ni%3 != 0 {
		return g, fmt.Errorf("index count %d is not a multiple of 3", ni)
	}
	if uint64(ni)*4 > uint64(r.remaining()) {
		return g, fmt.Errorf("%d indices: %w", ni, errTruncated)
	}
	g.Indices = make([]uint32, ni)
	for i := range g.Indices {
		idx, _ := r.u32()
		if idx >= nv {
			return g, fmt.Errorf("index %d out of range for %d vertices", idx, nv)
		}
		g.Indices[i] = idx
	}
	return g, nil
}

// EncodeMesh writes g in the legacy layout DecodeMesh reads.
func EncodeMesh(g MeshGeometry) []byte {
	out := make([]byte, 0, 8+len(g.Vertices)*12+len(g.Indices)*4)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(g.Vertices)))
	for _, v := range g.Vertices {
		for _, c := range v {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(c))
		}
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(g.Indices)))
	for _, i := range g.Indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

// DecodeTexture reads the legacy texture header (u32 width, u32 height, u8
// format, u8 mips, u8 sRGB) followed by mip data. With an empty payload the
// parameters come from SizeX, SizeY and SRGB properties.
func DecodeTexture(rec *udk.RawRecord) (TextureParams, error) {
	p := TextureParams{Format: "RGBA8", Mips: 1}
	if len(rec.Payload) == 0 {
		if v, ok := rec.Prop("SizeX"); ok {
			if n, isNum := v.Number(); isNum && n > 0 {
				p.Width = uint32(n)
			}
		}
		if v, ok := rec.Prop("SizeY"); ok {
			if n, isNum := v.Number(); isNum && n > 0 {
				p.Height = uint32(n)
			}
		}
		if v, ok := rec.Prop("SRGB"); ok && v.Kind == udk.KindBool {
			p.SRGB = v.Bool
		}
		return p, nil
	}
	r := payloadReader{data: rec.Payload}
	var err error
	if p.Width, err = r.u32(); err != nil {
		return p, fmt.Errorf("width: %w", err)
	}
	if p.Height, err = r.u32(); err != nil {
		return p, fmt.Errorf("height: %w", err)
	}
	head, err := r.bytes(3)
	if err != nil {
		return p, fmt.Errorf("format header: %w", err)
	}
	if int(head[0]) >= len(textureFormats) {
		return p, fmt.Errorf("unknown texture format %d", head[0])
	}
	p.Format = textureFormats[head[0]]
	p.Mips = head[1]
	p.SRGB = head[2] != 0
	if p.Width == 0 || p.Height == 0 {
		return p, fmt.Errorf("degenerate size %dx%d", p.Width, p.Height)
	}
	p.Data = append([]byte(nil), rec.Payload[r.pos:]...)
	return p, nil
}

// EncodeTexture writes the legacy texture header and data.
func EncodeTexture(p TextureParams) []byte {
	format := byte(0)
	for i, f := range textureFormats {
		if f == p.Format {
			format = byte(i)
		}
	}
	out := binary.LittleEndian.AppendUint32(nil, p.Width)
	out = binary.LittleEndian.AppendUint32(out, p.Height)
	srgb := byte(0)
	if p.SRGB {
		srgb = 1
	}
	out = append(out, format, p.Mips, srgb)
	return append(out, p.Data...)
}

// TriangulateBrush fan-triangulates every brush polygon with at least three
// vertices into one mesh.
func TriangulateBrush(polys []scene.Polygon) MeshGeometry {
	var g MeshGeometry
	for _, poly := range polys {
		if len(poly.Vertices) < 3 {
			continue
		}
		base := uint32(len(g.Vertices))
		for _, v := range poly.Vertices {
			g.Vertices = append(g.Vertices, [3]float32{float32(v.X), float32(v.Y), float32(v.Z)})
		}
		for i := 1; i+1 < len(poly.Vertices); i++ {
			g.Indices = append(g.Indices, base, base+uint32(i), base+uint32(i+1))
		}
	}
	return g
}

// brushMaterials returns the distinct polygon textures in first-seen order.
func brushMaterials(polys []scene.Polygon) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range polys {
		if p.Texture == "" || seen[strings.ToLower(p.Texture)] {
			continue
		}
		seen[strings.ToLower(p.Texture)] = true
		out = append(out, p.Texture)
	}
	return out
}

// encodePayload renders a native payload as JSON.
func encodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

type payloadReader struct {
	data []byte
	pos  int
}

func (r *payloadReader) remaining() int { return len(r.data) - r.pos }

func (r *payloadReader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, errTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *payloadReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
