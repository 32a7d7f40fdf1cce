package udk

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// PackageMagic tags every legacy binary package.
const PackageMagic uint32 = 0x9E2A83C1

// Default supported package file-version range.
const (
	DefaultMinVersion uint16 = 491
	DefaultMaxVersion uint16 = 868
)

const (
	headerSize      = 12
	importEntrySize = 16
	exportEntrySize = 20
	nameNone        = "None"
)

// PackageOptions bounds the accepted package versions. Zero values select
// the defaults.
type PackageOptions struct {
	MinVersion uint16
	MaxVersion uint16
}

func (o PackageOptions) bounds() (uint16, uint16) {
	lo, hi := o.MinVersion, o.MaxVersion
	if lo == 0 {
		lo = DefaultMinVersion
	}
	if hi == 0 {
		hi = DefaultMaxVersion
	}
	return lo, hi
}

type importEntry struct {
	classPackage string
	className    string
	outer        int32
	objectName   string
}

type exportEntry struct {
	objectName string
	className  string
	outer      int32
	size       int32
	offset     int32
}

// ReadPackage parses a binary package into a forest holding one Package
// record whose children are the export table entries in table order.
//
// Precondition: data holds the complete package.
// Postcondition: a header that cannot be accepted yields a *VersionError
// wrapping ErrUnsupportedVersion; any other defect, including truncation,
// yields a *ParseError. Bytes beyond the tables are ignored.
func ReadPackage(data []byte, opts PackageOptions) ([]*RawRecord, error) {
	lo, hi := opts.bounds()
	if len(data) < headerSize {
		return nil, &VersionError{Min: lo, Max: hi,
			Reason: fmt.Sprintf("truncated header: %d of %d bytes", len(data), headerSize)}
	}
	r := &byteReader{data: data}
	magic, _ := r.u32()
	if magic != PackageMagic {
		return nil, &VersionError{Min: lo, Max: hi,
			Reason: fmt.Sprintf("bad magic 0x%08X", magic)}
	}
	version, _ := r.u16()
	licensee, _ := r.u16()
	if version < lo || version > hi {
		return nil, &VersionError{Version: version, Licensee: licensee, Min: lo, Max: hi}
	}
	tocOffset, _ := r.i32()

	if err := r.seek(tocOffset, "table of contents"); err != nil {
		return nil, err
	}
	pkgName, err := r.fstring()
	if err != nil {
		return nil, err
	}
	var toc [6]int32
	for i := range toc {
		if toc[i], err = r.i32(); err != nil {
			return nil, err
		}
	}
	nameCount, nameOffset := toc[0], toc[1]
	exportCount, exportOffset := toc[2], toc[3]
	importCount, importOffset := toc[4], toc[5]

	names, err := readNames(r, nameCount, nameOffset)
	if err != nil {
		return nil, err
	}
	imports, err := readImports(r, names, importCount, importOffset)
	if err != nil {
		return nil, err
	}
	exports, err := readExports(r, names, exportCount, exportOffset)
	if err != nil {
		return nil, err
	}

	pr := &packageReader{data: data, pkg: pkgName, names: names, imports: imports, exports: exports}
	root := &RawRecord{
		Kind: "Package",
		Props: []Property{
			{Key: "Name", Value: OpaqueValue(pkgName), Header: true},
			{Key: "Version", Value: IntValue(int32(version))},
			{Key: "Licensee", Value: IntValue(int32(licensee))},
		},
	}
	for i := range exports {
		rec, err := pr.exportRecord(i)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, rec)
	}
	return []*RawRecord{root}, nil
}

func readNames(r *byteReader, count, offset int32) ([]string, error) {
	if err := r.table(count, offset, 12, "name table"); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		s, err := r.fstring()
		if err != nil {
			return nil, err
		}
		if _, err := r.u64(); err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, nil
}

func readImports(r *byteReader, names []string, count, offset int32) ([]importEntry, error) {
	if err := r.table(count, offset, importEntrySize, "import table"); err != nil {
		return nil, err
	}
	out := make([]importEntry, 0, count)
	for i := int32(0); i < count; i++ {
		var e importEntry
		var err error
		if e.classPackage, err = r.name(names); err != nil {
			return nil, err
		}
		if e.className, err = r.name(names); err != nil {
			return nil, err
		}
		if e.outer, err = r.i32(); err != nil {
			return nil, err
		}
		if e.objectName, err = r.name(names); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func readExports(r *byteReader, names []string, count, offset int32) ([]exportEntry, error) {
	if err := r.table(count, offset, exportEntrySize, "export table"); err != nil {
		return nil, err
	}
	out := make([]exportEntry, 0, count)
	for i := int32(0); i < count; i++ {
		var e exportEntry
		var err error
		if e.objectName, err = r.name(names); err != nil {
			return nil, err
		}
		if e.className, err = r.name(names); err != nil {
			return nil, err
		}
		if e.outer, err = r.i32(); err != nil {
			return nil, err
		}
		at := r.pos
		if e.size, err = r.i32(); err != nil {
			return nil, err
		}
		if e.offset, err = r.i32(); err != nil {
			return nil, err
		}
		if e.size < 0 || e.offset < 0 || int64(e.offset)+int64(e.size) > int64(len(r.data)) {
			return nil, &ParseError{Offset: at, Expected: "serial data within package",
				Found: fmt.Sprintf("offset %d size %d in %d bytes", e.offset, e.size, len(r.data))}
		}
		out = append(out, e)
	}
	return out, nil
}

type packageReader struct {
	data    []byte
	pkg     string
	names   []string
	imports []importEntry
	exports []exportEntry
}

// objectPath resolves a package index (>0 export, <0 import) to its dotted
// legacy path and class.
func (p *packageReader) objectPath(index int32) (path, class string, err error) {
	var segs []string
	limit := len(p.exports) + len(p.imports) + 1
	for index != 0 {
		if limit--; limit < 0 {
			return "", "", fmt.Errorf("outer chain cycle")
		}
		switch {
		case index > 0 && int(index) <= len(p.exports):
			e := p.exports[index-1]
			if class == "" {
				class = e.className
			}
			segs = append(segs, e.objectName)
			index = e.outer
			if index == 0 {
				segs = append(segs, p.pkg)
			}
		case index < 0 && int(-index) <= len(p.imports):
			e := p.imports[-index-1]
			if class == "" {
				class = e.className
			}
			segs = append(segs, e.objectName)
			index = e.outer
		default:
			return "", "", fmt.Errorf("package index %d out of range", index)
		}
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "."), class, nil
}

func (p *packageReader) exportRecord(i int) (*RawRecord, error) {
	e := p.exports[i]
	path, _, err := p.objectPath(int32(i + 1))
	if err != nil {
		return nil, &ParseError{Offset: int(e.offset), Expected: "acyclic export outer chain", Found: err.Error()}
	}
	rec := &RawRecord{
		Kind: e.className,
		Props: []Property{
			{Key: "Name", Value: OpaqueValue(e.objectName), Header: true},
			{Key: "ObjectPath", Value: StringValue(path), Header: true},
		},
		Pos: Position{Offset: int(e.offset)},
	}
	r := &byteReader{data: p.data[:int(e.offset)+int(e.size)], pos: int(e.offset)}
	if e.size == 0 {
		return rec, nil
	}
	props, err := p.taggedProperties(r)
	if err != nil {
		return nil, err
	}
	rec.Props = append(rec.Props, props...)
	if r.pos < len(r.data) {
		rec.Payload = bytes.Clone(r.data[r.pos:])
	}
	return rec, nil
}

func (p *packageReader) taggedProperties(r *byteReader) ([]Property, error) {
	var props []Property
	for {
		name, err := r.name(p.names)
		if err != nil {
			return nil, err
		}
		if name == nameNone {
			return props, nil
		}
		typ, err := r.name(p.names)
		if err != nil {
			return nil, err
		}
		sizeAt := r.pos
		size, err := r.i32()
		if err != nil {
			return nil, err
		}
		arrayIndex, err := r.i32()
		if err != nil {
			return nil, err
		}
		var structName string
		if typ == "StructProperty" {
			if structName, err = r.name(p.names); err != nil {
				return nil, err
			}
		}
		if size < 0 || r.remaining() < int(size) {
			return nil, &ParseError{Offset: sizeAt, Expected: fmt.Sprintf("%d bytes of %s value", size, name),
				Found: fmt.Sprintf("%d bytes", r.remaining())}
		}
		start := r.pos
		v, err := p.propertyValue(&byteReader{data: r.data[:start+int(size)], pos: start}, typ, structName, size)
		if err != nil {
			return nil, err
		}
		r.pos = start + int(size)

		key := name
		if arrayIndex != 0 {
			key = fmt.Sprintf("%s(%d)", name, arrayIndex)
		}
		props = append(props, Property{Key: key, Value: v})
	}
}

func (p *packageReader) propertyValue(r *byteReader, typ, structName string, size int32) (Value, error) {
	expectSize := func(n int32) error {
		if size != n {
			return &ParseError{Offset: r.pos, Expected: fmt.Sprintf("%s of %d bytes", typ, n),
				Found: fmt.Sprintf("%d bytes", size)}
		}
		return nil
	}
	switch typ {
	case "IntProperty":
		if err := expectSize(4); err != nil {
			return Value{}, err
		}
		n, err := r.i32()
		return IntValue(n), err
	case "FloatProperty":
		if err := expectSize(4); err != nil {
			return Value{}, err
		}
		f, err := r.f32()
		return Value{Kind: KindFloat, Float: f}, err
	case "BoolProperty":
		if err := expectSize(1); err != nil {
			return Value{}, err
		}
		b, err := r.u8()
		return BoolValue(b != 0), err
	case "StrProperty":
		s, err := r.fstring()
		return StringValue(s), err
	case "NameProperty":
		if err := expectSize(4); err != nil {
			return Value{}, err
		}
		s, err := r.name(p.names)
		return OpaqueValue(s), err
	case "ObjectProperty":
		if err := expectSize(4); err != nil {
			return Value{}, err
		}
		at := r.pos
		idx, err := r.i32()
		if err != nil {
			return Value{}, err
		}
		if idx == 0 {
			return OpaqueValue(nameNone), nil
		}
		path, class, err := p.objectPath(idx)
		if err != nil {
			return Value{}, &ParseError{Offset: at, Expected: "valid object reference", Found: err.Error()}
		}
		return ReferenceValue(class, path), nil
	case "StructProperty":
		switch structName {
		case "Vector":
			if err := expectSize(12); err != nil {
				return Value{}, err
			}
			var c [3]float64
			for i := range c {
				f, err := r.f32()
				if err != nil {
					return Value{}, err
				}
				c[i] = f
			}
			return Value{Kind: KindVector, Vec: Vector{X: c[0], Y: c[1], Z: c[2]}}, nil
		case "Rotator":
			if err := expectSize(12); err != nil {
				return Value{}, err
			}
			var c [3]int32
			for i := range c {
				n, err := r.i32()
				if err != nil {
					return Value{}, err
				}
				c[i] = n
			}
			return RotatorValue(c[0], c[1], c[2]), nil
		}
	}
	raw, err := r.bytes(int(size))
	if err != nil {
		return Value{}, err
	}
	return OpaqueValue("0x" + hex.EncodeToString(raw)), nil
}

// byteReader decodes little-endian fields. Every read past the end yields a
// *ParseError; nothing is zero-filled.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.pos }

func (r *byteReader) need(n int, what string) error {
	if n < 0 || r.remaining() < n {
		return &ParseError{Offset: r.pos, Expected: fmt.Sprintf("%d bytes (%s)", n, what),
			Found: fmt.Sprintf("%d bytes", r.remaining())}
	}
	return nil
}

func (r *byteReader) seek(offset int32, what string) error {
	if offset < 0 || int(offset) > len(r.data) {
		return &ParseError{Offset: r.pos, Expected: what + " offset within package",
			Found: fmt.Sprintf("offset %d in %d bytes", offset, len(r.data))}
	}
	r.pos = int(offset)
	return nil
}

// table seeks to a table start after checking count against a minimum entry
// size, so corrupt counts cannot drive huge allocations.
func (r *byteReader) table(count, offset int32, minEntry int, what string) error {
	if count < 0 || int64(count)*int64(minEntry) > int64(len(r.data)) {
		return &ParseError{Offset: r.pos, Expected: what + " entry count",
			Found: fmt.Sprintf("%d", count)}
	}
	return r.seek(offset, what)
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if err := r.need(n, "bytes"); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1, "uint8"); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2, "uint16"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4, "uint32"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8, "uint64"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) f32() (float64, error) {
	v, err := r.u32()
	return float64(math.Float32frombits(v)), err
}

func (r *byteReader) name(names []string) (string, error) {
	at := r.pos
	idx, err := r.i32()
	if err != nil {
		return "", err
	}
	if idx < 0 || int(idx) >= len(names) {
		return "", &ParseError{Offset: at, Expected: fmt.Sprintf("name index below %d", len(names)),
			Found: fmt.Sprintf("%d", idx)}
	}
	return names[idx], nil
}

// fstring reads a length-prefixed string: positive lengths are ANSI bytes,
// negative lengths are UTF-16LE code units; both include a terminator.
func (r *byteReader) fstring() (string, error) {
	at := r.pos
	n, err := r.i32()
	if err != nil {
		return "", err
	}
	switch {
	case n == 0:
		return "", nil
	case n > 0:
		b, err := r.bytes(int(n))
		if err != nil {
			return "", err
		}
		return string(bytes.TrimRight(b, "\x00")), nil
	default:
		if n == math.MinInt32 {
			return "", &ParseError{Offset: at, Expected: "string length", Found: fmt.Sprintf("%d", n)}
		}
		b, err := r.bytes(int(-n) * 2)
		if err != nil {
			return "", err
		}
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		s, err := dec.Bytes(b)
		if err != nil {
			return "", &ParseError{Offset: at, Expected: "UTF-16 string", Found: err.Error()}
		}
		return strings.TrimRight(string(s), "\x00"), nil
	}
}
