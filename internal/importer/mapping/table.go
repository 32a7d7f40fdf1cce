// Package mapping loads the legacy-to-target mapping table consulted by the
// reference resolver and the scene builder.
package mapping

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Target is a mapped destination asset.
type Target struct {
	// Path is the target engine path, e.g. /Game/Imported/Cube.
	Path string
	// Kind is the asset kind named by the table entry; may be empty when the
	// match came from a package prefix.
	Kind string
}

// Mapper answers legacy path and class lookups.
type Mapper interface {
	// TargetPath maps a legacy object path (and the referencing class, which
	// may be empty) to a target asset.
	TargetPath(legacyPath, class string) (Target, bool)
	// TargetClass maps a legacy class name to a target class identifier.
	TargetClass(legacyClass string) (string, bool)
}

// PathEntry maps one exact legacy path.
type PathEntry struct {
	Legacy string `yaml:"legacy"`
	Target string `yaml:"target"`
	Kind   string `yaml:"kind"`
}

// DefaultMaterial maps the legacy default material.
type DefaultMaterial struct {
	Legacy string `yaml:"legacy"`
	Target string `yaml:"target"`
}

// Table is the parsed mapping artifact. It is read-only after Load and safe
// for concurrent lookups.
type Table struct {
	Classes         map[string]string `yaml:"classes"`
	Paths           []PathEntry       `yaml:"paths"`
	Packages        map[string]string `yaml:"packages"`
	DefaultMaterial *DefaultMaterial  `yaml:"default_material"`

	byPath   map[string]PathEntry
	byClass  map[string]string
	prefixes []string
}

// Load reads and parses a mapping table file.
//
// Precondition: path names a readable YAML file.
// Postcondition: returns a validated Table or an error naming every defect.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping table %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mapping table %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a mapping table from YAML. Unknown legacy classes are not an
// error; they simply have no entry.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing mapping table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}

// Empty returns a table with no entries. Every lookup misses.
func Empty() *Table {
	t := &Table{}
	t.index()
	return t
}

// Validate reports every malformed entry at once.
func (t *Table) Validate() error {
	var errs []string
	seen := map[string]bool{}
	for i, p := range t.Paths {
		if p.Legacy == "" {
			errs = append(errs, fmt.Sprintf("paths[%d].legacy must not be empty", i))
		}
		if !strings.HasPrefix(p.Target, "/") {
			errs = append(errs, fmt.Sprintf("paths[%d].target must start with /, got %q", i, p.Target))
		}
		if seen[p.Legacy] {
			errs = append(errs, fmt.Sprintf("paths[%d].legacy %q is mapped more than once", i, p.Legacy))
		}
		seen[p.Legacy] = true
	}
	for legacy, target := range t.Packages {
		if legacy == "" || strings.Contains(legacy, "/") {
			errs = append(errs, fmt.Sprintf("packages key %q must be a dotted legacy prefix", legacy))
		}
		if !strings.HasPrefix(target, "/") {
			errs = append(errs, fmt.Sprintf("packages[%s] must start with /, got %q", legacy, target))
		}
	}
	for legacy, target := range t.Classes {
		if legacy == "" || target == "" {
			errs = append(errs, fmt.Sprintf("classes entry %q -> %q must not be empty", legacy, target))
		}
	}
	if d := t.DefaultMaterial; d != nil {
		if d.Legacy == "" {
			errs = append(errs, "default_material.legacy must not be empty")
		}
		if !strings.HasPrefix(d.Target, "/") {
			errs = append(errs, fmt.Sprintf("default_material.target must start with /, got %q", d.Target))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("mapping table validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (t *Table) index() {
	t.byPath = make(map[string]PathEntry, len(t.Paths))
	for _, p := range t.Paths {
		t.byPath[strings.ToLower(p.Legacy)] = p
	}
	t.byClass = make(map[string]string, len(t.Classes))
	for k, v := range t.Classes {
		t.byClass[strings.ToLower(k)] = v
	}
	t.prefixes = t.prefixes[:0]
	for k := range t.Packages {
		t.prefixes = append(t.prefixes, k)
	}
	// Longest first so the most specific prefix wins.
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
}

// TargetPath looks up legacyPath: exact path entry, then the default
// material, then the longest matching package prefix. Legacy paths compare
// case-insensitively, as the legacy engine does.
func (t *Table) TargetPath(legacyPath, _ string) (Target, bool) {
	if legacyPath == "" {
		return Target{}, false
	}
	if p, ok := t.byPath[strings.ToLower(legacyPath)]; ok {
		return Target{Path: p.Target, Kind: p.Kind}, true
	}
	if d := t.DefaultMaterial; d != nil && strings.EqualFold(d.Legacy, legacyPath) {
		return Target{Path: d.Target, Kind: "Material"}, true
	}
	lower := strings.ToLower(legacyPath)
	for _, prefix := range t.prefixes {
		lp := strings.ToLower(prefix)
		if !strings.HasPrefix(lower, lp+".") {
			continue
		}
		rest := strings.ReplaceAll(legacyPath[len(prefix)+1:], ".", "/")
		return Target{Path: strings.TrimRight(t.Packages[prefix], "/") + "/" + rest}, true
	}
	return Target{}, false
}

// TargetClass maps a legacy class name case-insensitively.
func (t *Table) TargetClass(legacyClass string) (string, bool) {
	v, ok := t.byClass[strings.ToLower(legacyClass)]
	return v, ok
}
