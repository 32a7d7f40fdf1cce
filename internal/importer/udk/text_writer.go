package udk

import (
	"bytes"
	"io"
	"strings"
)

const textIndent = "   "

// WriteText serializes forest in the text scene grammar accepted by
// ParseText. Binary payloads are not representable and are omitted.
//
// Postcondition: for any forest produced by ParseText, ParseText of the
// output yields an equal forest (ignoring source positions).
func WriteText(w io.Writer, forest []*RawRecord) error {
	var buf bytes.Buffer
	for _, r := range forest {
		writeRecord(&buf, r, 0)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// MarshalText is WriteText into a byte slice.
func MarshalText(forest []*RawRecord) []byte {
	var buf bytes.Buffer
	_ = WriteText(&buf, forest)
	return buf.Bytes()
}

func writeRecord(buf *bytes.Buffer, r *RawRecord, depth int) {
	indent := strings.Repeat(textIndent, depth)
	buf.WriteString(indent)
	buf.WriteString("Begin ")
	buf.WriteString(r.Kind)
	for _, p := range r.Props {
		if !p.Header {
			continue
		}
		buf.WriteByte(' ')
		buf.WriteString(p.Key)
		buf.WriteByte('=')
		buf.WriteString(p.Value.Literal())
	}
	buf.WriteByte('\n')

	inner := indent + textIndent
	for _, p := range r.Props {
		if p.Header {
			continue
		}
		buf.WriteString(inner)
		buf.WriteString(p.Key)
		if p.Spaced {
			if p.Value.Kind == KindVector {
				buf.WriteByte(' ')
				buf.WriteString(formatFloat(p.Value.Vec.X) + "," + formatFloat(p.Value.Vec.Y) + "," + formatFloat(p.Value.Vec.Z))
			} else if lit := p.Value.Literal(); lit != "" {
				buf.WriteByte(' ')
				buf.WriteString(lit)
			}
		} else {
			buf.WriteByte('=')
			buf.WriteString(p.Value.Literal())
		}
		buf.WriteByte('\n')
	}
	for _, c := range r.Children {
		writeRecord(buf, c, depth+1)
	}
	buf.WriteString(indent)
	buf.WriteString("End ")
	buf.WriteString(r.Kind)
	buf.WriteByte('\n')
}
