package importer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/udkimport/internal/importer"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

func TestFileSource_WalksDirectories(t *testing.T) {
	dir := t.TempDir()
	write := func(name, s string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(s), 0644))
	}
	write("maps/b.t3d", cubeScene)
	write("a.upk", "pkg")
	write("notes.txt", "ignored")

	inputs, err := importer.FileSource{Paths: []string{dir}}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "a.upk", inputs[0].SourceID)
	assert.Equal(t, udk.FormatPackage, inputs[0].Format)
	assert.Equal(t, "maps/b.t3d", inputs[1].SourceID)
	assert.Equal(t, udk.FormatText, inputs[1].Format)
	assert.Equal(t, cubeScene, string(inputs[1].Data))
}

func TestFileSource_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level.txt")
	require.NoError(t, os.WriteFile(path, []byte(cubeScene), 0644))

	_, err := importer.FileSource{Paths: []string{path}}.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer format")

	inputs, err := importer.FileSource{Paths: []string{path, path}, Format: udk.FormatText}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "level.txt", inputs[0].SourceID)
}

func TestFileSource_MissingPath(t *testing.T) {
	_, err := importer.FileSource{Paths: []string{filepath.Join(t.TempDir(), "nope.t3d")}}.Load(context.Background())
	require.Error(t, err)
}
