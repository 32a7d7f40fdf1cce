package udk

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
)

// ParseText parses a legacy text scene description into a RawRecord forest.
//
// Grammar: blank lines and lines starting with "//" are ignored;
// "Begin <Kind> [key=value ...]" opens a block, "End <Kind>" closes it;
// any other line inside a block is a property, either "Key=Value" or the
// spaced form "Key Value". Unknown keys are preserved.
//
// Precondition: data holds the complete file contents.
// Postcondition: returns the forest of top-level blocks, or a *ParseError
// locating the first defect.
func ParseText(data []byte) ([]*RawRecord, error) {
	p := &textParser{data: data}
	return p.parse()
}

type textParser struct {
	data   []byte
	offset int
	line   int
}

func (p *textParser) fail(expected, found string) *ParseError {
	return &ParseError{Offset: p.offset, Line: p.line, Expected: expected, Found: found}
}

func (p *textParser) parse() ([]*RawRecord, error) {
	var (
		roots []*RawRecord
		stack []*RawRecord
	)
	rest := p.data
	next := 0
	for len(rest) > 0 {
		p.offset = next
		p.line++
		var raw []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			raw, rest = rest[:i], rest[i+1:]
			next += i + 1
		} else {
			raw, rest = rest, nil
			next += len(raw)
		}
		line := strings.TrimFunc(string(raw), unicode.IsSpace)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		word, tail := splitWord(line)
		switch {
		case strings.EqualFold(word, "Begin"):
			rec, err := p.beginRecord(tail)
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				roots = append(roots, rec)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, rec)
			}
			stack = append(stack, rec)

		case strings.EqualFold(word, "End"):
			kind, extra := splitWord(tail)
			if kind == "" || extra != "" {
				return nil, p.fail("End <Kind>", quoteFound(line))
			}
			if len(stack) == 0 {
				return nil, p.fail("Begin block", quoteFound(line))
			}
			open := stack[len(stack)-1]
			if !strings.EqualFold(open.Kind, kind) {
				return nil, p.fail("End "+open.Kind, quoteFound(line))
			}
			stack = stack[:len(stack)-1]

		default:
			if len(stack) == 0 {
				return nil, p.fail("Begin block", quoteFound(line))
			}
			prop, err := p.property(line)
			if err != nil {
				return nil, err
			}
			owner := stack[len(stack)-1]
			owner.Props = append(owner.Props, prop)
		}
	}
	if len(stack) > 0 {
		p.offset = len(p.data)
		return nil, p.fail("End "+stack[len(stack)-1].Kind, "end of input")
	}
	return roots, nil
}

func (p *textParser) beginRecord(tail string) (*RawRecord, error) {
	kind, attrs := splitWord(tail)
	if kind == "" {
		return nil, p.fail("block kind after Begin", "end of line")
	}
	rec := &RawRecord{Kind: kind, Pos: Position{Offset: p.offset, Line: p.line}}
	tokens, ok := splitAttributes(attrs)
	if !ok {
		return nil, p.fail("closed quote or parenthesis", quoteFound(attrs))
	}
	for _, tok := range tokens {
		key, raw, found := strings.Cut(tok, "=")
		if !found || key == "" {
			return nil, p.fail("key=value attribute", quoteFound(tok))
		}
		v, err := parseLiteral(raw)
		if err != nil {
			return nil, p.fail("32-bit literal", quoteFound(raw))
		}
		rec.Props = append(rec.Props, Property{Key: key, Value: v, Header: true})
	}
	return rec, nil
}

func (p *textParser) property(line string) (Property, error) {
	if key, raw, found := strings.Cut(line, "="); found {
		key = strings.TrimSpace(key)
		if key == "" {
			return Property{}, p.fail("property key", quoteFound(line))
		}
		raw = strings.TrimSpace(raw)
		v, err := parseLiteral(raw)
		if err != nil {
			return Property{}, p.fail("32-bit literal", quoteFound(raw))
		}
		return Property{Key: key, Value: v}, nil
	}

	key, raw := splitWord(line)
	if v, ok := parseTriple(raw); ok {
		return Property{Key: key, Value: v, Spaced: true}, nil
	}
	v, err := parseLiteral(raw)
	if err != nil {
		return Property{}, p.fail("32-bit literal", quoteFound(raw))
	}
	return Property{Key: key, Value: v, Spaced: true}, nil
}

// splitWord returns the first whitespace-delimited word and the trimmed rest.
func splitWord(s string) (string, string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimFunc(s[i:], unicode.IsSpace)
}

// splitAttributes splits Begin-line attributes on whitespace that is not
// protected by double quotes, single quotes or parentheses.
func splitAttributes(s string) ([]string, bool) {
	var (
		tokens []string
		cur    strings.Builder
		dquote bool
		squote bool
		depth  int
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case dquote:
			if c == '\\' && i+1 < len(s) {
				cur.WriteByte(c)
				i++
				c = s[i]
			} else if c == '"' {
				dquote = false
			}
		case squote:
			if c == '\'' {
				squote = false
			}
		case c == '"':
			dquote = true
		case c == '\'':
			squote = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && (c == ' ' || c == '\t'):
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return tokens, !dquote && !squote && depth == 0
}

func quoteFound(s string) string {
	const max = 48
	if len(s) > max {
		s = s[:max] + "..."
	}
	return fmt.Sprintf("%q", s)
}
