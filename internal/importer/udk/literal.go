package udk

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPattern       = regexp.MustCompile(`^[+-]?[0-9]+$`)
	floatPattern     = regexp.MustCompile(`^[+-]?([0-9]+\.[0-9]*|\.[0-9]+|[0-9]+)([eE][+-]?[0-9]+)?$`)
	referencePattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)'([^']*)'$`)
)

// errLiteralWidth marks a numeric literal that does not fit the legacy 32-bit
// width.
var errLiteralWidth = errors.New("numeric literal exceeds 32-bit width")

// parseLiteral classifies one value text. Only width overflow is an error;
// anything unrecognised becomes an opaque literal.
func parseLiteral(s string) (Value, error) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return StringValue(unquote(s[1 : len(s)-1])), nil
	}
	if strings.EqualFold(s, "true") {
		return BoolValue(true), nil
	}
	if strings.EqualFold(s, "false") {
		return BoolValue(false), nil
	}
	if intPattern.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, errLiteralWidth
		}
		return IntValue(int32(n)), nil
	}
	if floatPattern.MatchString(s) {
		f, err := parseFloat32(s)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat, Float: f}, nil
	}
	if m := referencePattern.FindStringSubmatch(s); m != nil {
		return ReferenceValue(m[1], m[2]), nil
	}
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		if v, ok := parseStruct(s[1 : len(s)-1]); ok {
			return v, nil
		}
	}
	return OpaqueValue(s), nil
}

// parseTriple recognises the "x,y,z" vector shorthand used by polygon lines.
func parseTriple(s string) (Value, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Value{}, false
	}
	var c [3]float64
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !floatPattern.MatchString(p) {
			return Value{}, false
		}
		f, err := parseFloat32(p)
		if err != nil {
			return Value{}, false
		}
		c[i] = f
	}
	return Value{Kind: KindVector, Vec: Vector{X: c[0], Y: c[1], Z: c[2]}}, true
}

// parseStruct recognises (X=,Y=,Z=) vectors and (Pitch=,Yaw=,Roll=) rotators.
// Omitted components default to zero.
func parseStruct(body string) (Value, bool) {
	fields := map[string]string{}
	for _, part := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Value{}, false
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if _, dup := fields[k]; dup {
			return Value{}, false
		}
		fields[k] = strings.TrimSpace(v)
	}
	if onlyKeys(fields, "x", "y", "z") {
		var vec Vector
		for k, raw := range fields {
			if !floatPattern.MatchString(raw) {
				return Value{}, false
			}
			f, err := parseFloat32(raw)
			if err != nil {
				return Value{}, false
			}
			switch k {
			case "x":
				vec.X = f
			case "y":
				vec.Y = f
			case "z":
				vec.Z = f
			}
		}
		return Value{Kind: KindVector, Vec: vec}, true
	}
	if onlyKeys(fields, "pitch", "yaw", "roll") {
		var rot Rotator
		for k, raw := range fields {
			if !intPattern.MatchString(raw) {
				return Value{}, false
			}
			n, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return Value{}, false
			}
			switch k {
			case "pitch":
				rot.Pitch = int32(n)
			case "yaw":
				rot.Yaw = int32(n)
			case "roll":
				rot.Roll = int32(n)
			}
		}
		return Value{Kind: KindRotator, Rot: rot}, true
	}
	return Value{}, false
}

func onlyKeys(fields map[string]string, allowed ...string) bool {
	if len(fields) == 0 {
		return false
	}
	for k := range fields {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func parseFloat32(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, errLiteralWidth
	}
	return f, nil
}

// Literal renders the canonical text form of v. Parsing the result yields a
// value Equal to v.
func (v Value) Literal() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case KindString:
		return quote(v.Str)
	case KindVector:
		return "(X=" + formatFloat(v.Vec.X) + ",Y=" + formatFloat(v.Vec.Y) + ",Z=" + formatFloat(v.Vec.Z) + ")"
	case KindRotator:
		return "(Pitch=" + strconv.Itoa(int(v.Rot.Pitch)) +
			",Yaw=" + strconv.Itoa(int(v.Rot.Yaw)) +
			",Roll=" + strconv.Itoa(int(v.Rot.Roll)) + ")"
	case KindReference:
		return v.Ref.Class + "'" + v.Ref.Path + "'"
	default:
		return v.Str
	}
}

// formatFloat prints the shortest 32-bit representation, always with a
// decimal point so the text is never re-read as an integer.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 32)
	}
	s := strconv.FormatFloat(f, 'f', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

func unquote(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
