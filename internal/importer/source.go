package importer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// Input is one legacy source file handed to a Session.
type Input struct {
	// SourceID names the file in reports and node IDs. It must be unique
	// within a session.
	SourceID string
	Format   udk.Format
	Data     []byte
}

// Source produces the inputs of a session.
//
// Postcondition: returns inputs with unique SourceIDs, or a non-nil error.
type Source interface {
	Load(ctx context.Context) ([]Input, error)
}

// FileSource loads legacy files from disk. Directories are walked
// recursively and every file with a recognised extension is included.
type FileSource struct {
	Paths []string
	// Format, when set, overrides extension-based detection for files named
	// explicitly in Paths.
	Format udk.Format
}

// Load reads every file named by s.Paths.
//
// Precondition: every path exists.
// Postcondition: inputs are ordered as the paths were given; files found by
// walking a directory are ordered by path.
func (s FileSource) Load(ctx context.Context) ([]Input, error) {
	var inputs []Input
	seen := map[string]bool{}
	add := func(root, path string, format udk.Format) error {
		id := SourceIDFor(root, path)
		if seen[id] {
			return nil
		}
		seen[id] = true
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		inputs = append(inputs, Input{SourceID: id, Format: format, Data: data})
		return nil
	}

	for _, p := range s.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			format := s.Format
			if format == "" {
				f, ok := udk.FormatFromPath(p)
				if !ok {
					return nil, fmt.Errorf("%s: cannot infer format from extension; use --format", p)
				}
				format = f
			}
			if err := add(filepath.Dir(p), p, format); err != nil {
				return nil, err
			}
			continue
		}

		var files []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := udk.FormatFromPath(path); ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
		sort.Strings(files)
		for _, f := range files {
			format, _ := udk.FormatFromPath(f)
			if err := add(p, f, format); err != nil {
				return nil, err
			}
		}
	}
	return inputs, nil
}

// StaticSource serves inputs held in memory.
type StaticSource []Input

// Load returns the inputs unchanged.
func (s StaticSource) Load(context.Context) ([]Input, error) { return s, nil }
