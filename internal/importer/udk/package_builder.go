package udk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var arrayKeyPattern = regexp.MustCompile(`^(.+)\(([0-9]+)\)$`)

// PackageBuilder assembles a binary package in the layout ReadPackage
// accepts. It backs test fixtures and the CLI's fixture generation.
type PackageBuilder struct {
	name     string
	version  uint16
	licensee uint16
	names    []string
	nameIdx  map[string]int32
	imports  []builderImport
	exports  []builderExport
	trailer  []byte
}

type builderImport struct {
	classPackage string
	className    string
	outer        int32
	name         string
}

type builderExport struct {
	name    string
	class   string
	outer   int32
	props   []Property
	payload []byte
}

// NewPackageBuilder starts a package with the given root name and file
// version.
func NewPackageBuilder(name string, version uint16) *PackageBuilder {
	b := &PackageBuilder{name: name, version: version, nameIdx: map[string]int32{}}
	b.intern(nameNone)
	return b
}

// SetLicensee sets the licensee version stored in the header.
func (b *PackageBuilder) SetLicensee(v uint16) *PackageBuilder {
	b.licensee = v
	return b
}

// SetTrailer appends opaque bytes after all tables, standing in for the
// optional trailing sections real packages carry.
func (b *PackageBuilder) SetTrailer(data []byte) *PackageBuilder {
	b.trailer = data
	return b
}

// AddImport registers an imported object and returns its package index
// (negative).
func (b *PackageBuilder) AddImport(classPackage, className string, outer int32, name string) int32 {
	b.imports = append(b.imports, builderImport{classPackage: classPackage, className: className, outer: outer, name: name})
	return -int32(len(b.imports))
}

// AddExport registers an exported object and returns its package index
// (positive). Header properties in props are ignored; reference values are
// encoded as object indices and must name an object in this package.
func (b *PackageBuilder) AddExport(name, class string, outer int32, props []Property, payload []byte) int32 {
	b.exports = append(b.exports, builderExport{name: name, class: class, outer: outer, props: props, payload: payload})
	return int32(len(b.exports))
}

func (b *PackageBuilder) intern(s string) int32 {
	if i, ok := b.nameIdx[s]; ok {
		return i
	}
	i := int32(len(b.names))
	b.names = append(b.names, s)
	b.nameIdx[s] = i
	return i
}

// Bytes serializes the package.
//
// Postcondition: ReadPackage(out) reproduces every export, its tagged
// properties and payload.
func (b *PackageBuilder) Bytes() ([]byte, error) {
	paths, err := b.paths()
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(make([]byte, headerSize))

	type span struct{ offset, size int32 }
	spans := make([]span, len(b.exports))
	for i, e := range b.exports {
		start := out.Len()
		if err := b.writeSerial(&out, e, paths); err != nil {
			return nil, fmt.Errorf("export %q: %w", e.name, err)
		}
		spans[i] = span{offset: int32(start), size: int32(out.Len() - start)}
	}

	for _, imp := range b.imports {
		b.intern(imp.classPackage)
		b.intern(imp.className)
		b.intern(imp.name)
	}
	for _, e := range b.exports {
		b.intern(e.name)
		b.intern(e.class)
	}

	nameOffset := int32(out.Len())
	for _, n := range b.names {
		writeFString(&out, n)
		putU64(&out, 0)
	}
	importOffset := int32(out.Len())
	for _, imp := range b.imports {
		putI32(&out, b.nameIdx[imp.classPackage])
		putI32(&out, b.nameIdx[imp.className])
		putI32(&out, imp.outer)
		putI32(&out, b.nameIdx[imp.name])
	}
	exportOffset := int32(out.Len())
	for i, e := range b.exports {
		putI32(&out, b.nameIdx[e.name])
		putI32(&out, b.nameIdx[e.class])
		putI32(&out, e.outer)
		putI32(&out, spans[i].size)
		putI32(&out, spans[i].offset)
	}

	tocOffset := int32(out.Len())
	writeFString(&out, b.name)
	for _, v := range []int32{
		int32(len(b.names)), nameOffset,
		int32(len(b.exports)), exportOffset,
		int32(len(b.imports)), importOffset,
	} {
		putI32(&out, v)
	}
	out.Write(b.trailer)

	data := out.Bytes()
	binary.LittleEndian.PutUint32(data[0:], PackageMagic)
	binary.LittleEndian.PutUint16(data[4:], b.version)
	binary.LittleEndian.PutUint16(data[6:], b.licensee)
	binary.LittleEndian.PutUint32(data[8:], uint32(tocOffset))
	return data, nil
}

// paths maps every object's dotted path to its package index.
func (b *PackageBuilder) paths() (map[string]int32, error) {
	pr := &packageReader{pkg: b.name}
	for _, imp := range b.imports {
		pr.imports = append(pr.imports, importEntry{classPackage: imp.classPackage, className: imp.className, outer: imp.outer, objectName: imp.name})
	}
	for _, e := range b.exports {
		pr.exports = append(pr.exports, exportEntry{objectName: e.name, className: e.class, outer: e.outer})
	}
	out := make(map[string]int32, len(b.imports)+len(b.exports))
	for i := range b.imports {
		idx := -int32(i + 1)
		p, _, err := pr.objectPath(idx)
		if err != nil {
			return nil, err
		}
		out[p] = idx
	}
	for i := range b.exports {
		idx := int32(i + 1)
		p, _, err := pr.objectPath(idx)
		if err != nil {
			return nil, err
		}
		out[p] = idx
	}
	return out, nil
}

func (b *PackageBuilder) writeSerial(out *bytes.Buffer, e builderExport, paths map[string]int32) error {
	for _, p := range e.props {
		if p.Header {
			continue
		}
		name, arrayIndex := p.Key, int32(0)
		if m := arrayKeyPattern.FindStringSubmatch(p.Key); m != nil {
			n, err := strconv.ParseInt(m[2], 10, 32)
			if err == nil {
				name, arrayIndex = m[1], int32(n)
			}
		}

		var (
			typ, structName string
			value           bytes.Buffer
		)
		switch p.Value.Kind {
		case KindInt:
			typ = "IntProperty"
			putI32(&value, p.Value.Int)
		case KindFloat:
			typ = "FloatProperty"
			putF32(&value, p.Value.Float)
		case KindBool:
			typ = "BoolProperty"
			if p.Value.Bool {
				value.WriteByte(1)
			} else {
				value.WriteByte(0)
			}
		case KindString:
			typ = "StrProperty"
			writeFString(&value, p.Value.Str)
		case KindVector:
			typ, structName = "StructProperty", "Vector"
			putF32(&value, p.Value.Vec.X)
			putF32(&value, p.Value.Vec.Y)
			putF32(&value, p.Value.Vec.Z)
		case KindRotator:
			typ, structName = "StructProperty", "Rotator"
			putI32(&value, p.Value.Rot.Pitch)
			putI32(&value, p.Value.Rot.Yaw)
			putI32(&value, p.Value.Rot.Roll)
		case KindReference:
			typ = "ObjectProperty"
			idx, ok := paths[p.Value.Ref.Path]
			if !ok {
				return fmt.Errorf("property %s references %q, which is not in the package", p.Key, p.Value.Ref.Path)
			}
			putI32(&value, idx)
		default:
			typ = "NameProperty"
			putI32(&value, b.intern(p.Value.Str))
		}

		putI32(out, b.intern(name))
		putI32(out, b.intern(typ))
		putI32(out, int32(value.Len()))
		putI32(out, arrayIndex)
		if structName != "" {
			putI32(out, b.intern(structName))
		}
		out.Write(value.Bytes())
	}
	putI32(out, b.intern(nameNone))
	out.Write(e.payload)
	return nil
}

func putI32(w *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.Write(b[:])
}

func putU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func putF32(w *bytes.Buffer, v float64) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
	w.Write(b[:])
}

func writeFString(w *bytes.Buffer, s string) {
	if s == "" {
		putI32(w, 0)
		return
	}
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || s[i] == 0 {
			ascii = false
			break
		}
	}
	if ascii {
		putI32(w, int32(len(s)+1))
		w.WriteString(s)
		w.WriteByte(0)
		return
	}
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	units, err := enc.Bytes([]byte(strings.ToValidUTF8(s, "�")))
	if err != nil {
		units = nil
	}
	putI32(w, -int32(len(units)/2+1))
	w.Write(units)
	w.Write([]byte{0, 0})
}
