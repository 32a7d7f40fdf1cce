// Package udk reads the legacy UDK content formats: the line-oriented text
// scene description (T3D) and the binary package container. Both readers
// produce the same format-faithful RawRecord forest; no semantic
// interpretation happens here.
package udk

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a legacy source format.
type Format string

// Supported source formats.
const (
	FormatText    Format = "t3d"
	FormatPackage Format = "upk"
)

// FormatFromPath infers the source format from a file name extension.
//
// Postcondition: ok is false when the extension is not a known legacy format.
func FormatFromPath(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".t3d", ".txt":
		return FormatText, true
	case ".upk", ".udk", ".u", ".umap":
		return FormatPackage, true
	}
	return "", false
}

// ParseFormat validates a declared format tag.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText:
		return FormatText, nil
	case FormatPackage:
		return FormatPackage, nil
	}
	return "", fmt.Errorf("unknown source format %q (supported: t3d, upk)", s)
}

// ValueKind tags the literal variant carried by a Value.
type ValueKind int

// Literal kinds. KindOpaque holds any text the reader could not classify,
// preserved verbatim.
const (
	KindOpaque ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindVector
	KindRotator
	KindReference
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindVector:
		return "vector"
	case KindRotator:
		return "rotator"
	case KindReference:
		return "reference"
	default:
		return "opaque"
	}
}

// Vector is a legacy 3-component float vector.
type Vector struct {
	X, Y, Z float64
}

// Rotator is a legacy rotation in engine units (65536 per full turn).
type Rotator struct {
	Pitch, Yaw, Roll int32
}

// Reference is a by-name pointer to another object, e.g.
// StaticMesh'EngineContent.Mesh.Cube'.
type Reference struct {
	Class string
	Path  string
}

// Value is a closed tagged union over the legacy literal kinds. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind  ValueKind
	Int   int32
	Float float64
	Bool  bool
	Str   string
	Vec   Vector
	Rot   Rotator
	Ref   Reference
}

// IntValue returns an integer literal.
func IntValue(v int32) Value { return Value{Kind: KindInt, Int: v} }

// FloatValue returns a float literal. v is narrowed to the legacy 32-bit width.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: float64(float32(v))} }

// BoolValue returns a boolean literal.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// StringValue returns a quoted-string literal.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// OpaqueValue returns an unclassified literal preserved verbatim.
func OpaqueValue(v string) Value { return Value{Kind: KindOpaque, Str: v} }

// VectorValue returns a vector literal with 32-bit components.
func VectorValue(x, y, z float64) Value {
	return Value{Kind: KindVector, Vec: Vector{
		X: float64(float32(x)),
		Y: float64(float32(y)),
		Z: float64(float32(z)),
	}}
}

// RotatorValue returns a rotator literal.
func RotatorValue(pitch, yaw, roll int32) Value {
	return Value{Kind: KindRotator, Rot: Rotator{Pitch: pitch, Yaw: yaw, Roll: roll}}
}

// ReferenceValue returns a reference literal.
func ReferenceValue(class, path string) Value {
	return Value{Kind: KindReference, Ref: Reference{Class: class, Path: path}}
}

// Text returns the textual content of string and opaque literals, and the
// canonical literal text for every other kind.
func (v Value) Text() string {
	if v.Kind == KindString || v.Kind == KindOpaque {
		return v.Str
	}
	return v.Literal()
}

// Number reports the value as a float when it is numeric.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// Equal reports whether two values carry the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	case KindVector:
		return v.Vec == o.Vec
	case KindRotator:
		return v.Rot == o.Rot
	case KindReference:
		return v.Ref == o.Ref
	default:
		return v.Str == o.Str
	}
}

// Property is one key/literal pair of a record. Header properties come from
// the attributes on a text block's Begin line (or the export table for binary
// packages). Spaced properties were written as "Key Value" without '='.
type Property struct {
	Key    string
	Value  Value
	Header bool
	Spaced bool
}

// Position locates a record in its source buffer.
type Position struct {
	Offset int
	Line   int
}

// RawRecord is one node of the parsed-but-uninterpreted tree. It mirrors the
// nesting of the source exactly.
type RawRecord struct {
	Kind     string
	Props    []Property
	Children []*RawRecord
	// Payload holds the native bytes trailing a binary export's tagged
	// properties. Always nil for text records.
	Payload []byte
	Pos     Position
}

// Prop returns the first property whose key matches (case-insensitive).
func (r *RawRecord) Prop(key string) (Value, bool) {
	for _, p := range r.Props {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Header returns the first header property whose key matches.
func (r *RawRecord) Header(key string) (Value, bool) {
	for _, p := range r.Props {
		if p.Header && strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Name returns the record's Name header, or "" when absent.
func (r *RawRecord) Name() string {
	v, ok := r.Header("Name")
	if !ok {
		return ""
	}
	return v.Text()
}

// Class returns the record's Class header, falling back to Kind for binary
// exports whose kind already is the class name.
func (r *RawRecord) Class() string {
	if v, ok := r.Header("Class"); ok {
		return v.Text()
	}
	return r.Kind
}

// ObjectPath returns the legacy path the record declares, or "" when it
// declares none.
func (r *RawRecord) ObjectPath() string {
	v, ok := r.Header("ObjectPath")
	if !ok {
		return ""
	}
	return v.Text()
}

// IsKind reports whether the record's kind matches k (case-insensitive).
func (r *RawRecord) IsKind(k string) bool {
	return strings.EqualFold(r.Kind, k)
}

// Walk visits r and its descendants depth-first in source order. Returning
// false from fn skips the record's children.
func (r *RawRecord) Walk(fn func(*RawRecord) bool) {
	if !fn(r) {
		return
	}
	for _, c := range r.Children {
		c.Walk(fn)
	}
}

// WalkForest walks every root of forest in order.
func WalkForest(forest []*RawRecord, fn func(*RawRecord) bool) {
	for _, r := range forest {
		r.Walk(fn)
	}
}
