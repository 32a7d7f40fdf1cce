package mapping

// Chain consults each mapper in order and returns the first hit. Nil mappers
// are skipped.
func Chain(mappers ...Mapper) Mapper {
	out := make(chain, 0, len(mappers))
	for _, m := range mappers {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

type chain []Mapper

func (c chain) TargetPath(legacyPath, class string) (Target, bool) {
	for _, m := range c {
		if t, ok := m.TargetPath(legacyPath, class); ok {
			return t, true
		}
	}
	return Target{}, false
}

func (c chain) TargetClass(legacyClass string) (string, bool) {
	for _, m := range c {
		if v, ok := m.TargetClass(legacyClass); ok {
			return v, true
		}
	}
	return "", false
}
