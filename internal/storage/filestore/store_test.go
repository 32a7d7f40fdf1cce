package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/storage/filestore"
)

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	s, err := filestore.New(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func write(path string, payload string, overwrite bool) materialize.AssetWrite {
	return materialize.AssetWrite{
		TargetPath:   path,
		Kind:         materialize.KindStaticMesh,
		Payload:      []byte(payload),
		Dependencies: []string{"/Game/Imported/Mat"},
		Fingerprint:  materialize.ExternalFingerprint(materialize.KindStaticMesh, path),
		Overwrite:    overwrite,
	}
}

func TestStore_CommitMovesFilesIntoPlace(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	status, _, err := tx.CreateOrUpdate(ctx, write("/Game/Imported/Rocks/Rock", `{"verts":3}`, false))
	require.NoError(t, err)
	require.Equal(t, materialize.WriteCreated, status)

	_, err = os.Stat(filepath.Join(s.Root(), "Game", "Imported", "Rocks", "Rock.asset.json"))
	assert.True(t, os.IsNotExist(err), "nothing is visible before commit")

	exists, err := tx.Exists(ctx, "/Game/Imported/Rocks/Rock")
	require.NoError(t, err)
	assert.True(t, exists, "staged writes are visible inside the transaction")

	require.NoError(t, tx.Commit(ctx))

	m, payload, err := s.Get("/Game/Imported/Rocks/Rock")
	require.NoError(t, err)
	assert.Equal(t, materialize.KindStaticMesh, m.Kind)
	assert.Equal(t, []string{"/Game/Imported/Mat"}, m.Dependencies)
	assert.Equal(t, len(`{"verts":3}`), m.PayloadBytes)
	assert.JSONEq(t, `{"verts":3}`, string(payload))

	paths, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/Game/Imported/Rocks/Rock"}, paths)
}

func TestStore_NonJSONPayloadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, _, err = tx.CreateOrUpdate(ctx, write("/Game/Tex", "\x00\x01raw", false))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, payload, err := s.Get("/Game/Tex")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x01raw"), payload)
}

func TestStore_RollbackDiscardsStaging(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, _, err = tx.CreateOrUpdate(ctx, write("/Game/A", "{}", false))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, _, err = s.Get("/Game/A")
	assert.ErrorIs(t, err, filestore.ErrAssetNotFound)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory removed")

	_, _, err = tx.CreateOrUpdate(ctx, write("/Game/B", "{}", false))
	assert.ErrorIs(t, err, filestore.ErrTxDone)
}

func TestStore_ExistingPathWithoutOverwriteIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, _, err = tx.CreateOrUpdate(ctx, write("/Game/A", `{"v":1}`, false))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	status, reason, err := tx.CreateOrUpdate(ctx, write("/Game/A", `{"v":2}`, false))
	require.NoError(t, err)
	assert.Equal(t, materialize.WriteSkipped, status)
	assert.Contains(t, reason, "already exists")

	status, _, err = tx.CreateOrUpdate(ctx, write("/Game/A", `{"v":2}`, true))
	require.NoError(t, err)
	assert.Equal(t, materialize.WriteCreated, status)
	require.NoError(t, tx.Commit(ctx))

	_, payload, err := s.Get("/Game/A")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(payload))
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range []string{"Game/A", "/Game/../../etc/x", "/", "/Game//A", "/.staging-x/A"} {
		status, reason, err := tx.CreateOrUpdate(ctx, write(p, "{}", false))
		require.NoError(t, err, p)
		assert.Equal(t, materialize.WriteFailed, status, p)
		assert.NotEmpty(t, reason, p)
	}
}

func TestStore_BeginHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newStore(t).Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RejectsEmptyRoot(t *testing.T) {
	_, err := filestore.New("", nil)
	assert.Error(t, err)
}
