package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
)

// ErrAssetNotFound is returned when an asset lookup yields no results.
var ErrAssetNotFound = errors.New("asset not found")

// Asset is one row of the assets table.
type Asset struct {
	Path         string
	Kind         materialize.Kind
	Fingerprint  materialize.Fingerprint
	Payload      []byte
	Dependencies []string
	Revision     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AssetRepository stores imported assets. Each Begin opens one database
// transaction, so a file's assets become visible together or not at all.
type AssetRepository struct {
	db *pgxpool.Pool
}

// NewAssetRepository creates an AssetRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAssetRepository(db *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{db: db}
}

// Begin opens a transaction.
//
// Postcondition: Returns an open transaction, or a non-nil error.
func (r *AssetRepository) Begin(ctx context.Context) (materialize.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning asset transaction: %w", err)
	}
	return &assetTx{tx: tx}, nil
}

// Get retrieves the asset stored at path.
//
// Postcondition: Returns the Asset, or ErrAssetNotFound.
func (r *AssetRepository) Get(ctx context.Context, path string) (Asset, error) {
	var (
		a  Asset
		fp []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT path, kind, fingerprint, payload, dependencies, revision, created_at, updated_at
		 FROM assets WHERE path = $1`, path,
	).Scan(&a.Path, &a.Kind, &fp, &a.Payload, &a.Dependencies, &a.Revision, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("querying asset %s: %w", path, err)
	}
	copy(a.Fingerprint[:], fp)
	return a, nil
}

// List returns every stored path, sorted.
func (r *AssetRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT path FROM assets ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning asset paths: %w", err)
	}
	return paths, nil
}

type assetTx struct {
	tx pgx.Tx
}

func (t *assetTx) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking asset %s: %w", path, err)
	}
	return exists, nil
}

const (
	insertAsset = `INSERT INTO assets (path, kind, fingerprint, payload, dependencies)
		VALUES ($1, $2, $3, $4, $5)`
	overwriteAsset = insertAsset + `
		ON CONFLICT (path) DO UPDATE SET
			kind = EXCLUDED.kind,
			fingerprint = EXCLUDED.fingerprint,
			payload = EXCLUDED.payload,
			dependencies = EXCLUDED.dependencies,
			revision = assets.revision + 1,
			updated_at = NOW()`
	keepAsset = insertAsset + `
		ON CONFLICT (path) DO NOTHING`
)

// CreateOrUpdate writes one asset. Without Overwrite an existing row is left
// untouched and reported as skipped.
func (t *assetTx) CreateOrUpdate(ctx context.Context, w materialize.AssetWrite) (materialize.WriteStatus, string, error) {
	query := keepAsset
	if w.Overwrite {
		query = overwriteAsset
	}
	deps := w.Dependencies
	if deps == nil {
		deps = []string{}
	}
	payload := w.Payload
	if payload == nil {
		payload = []byte{}
	}
	tag, err := t.tx.Exec(ctx, query, w.TargetPath, string(w.Kind), w.Fingerprint[:], payload, deps)
	if err != nil {
		return materialize.WriteFailed, "", fmt.Errorf("writing asset %s: %w", w.TargetPath, err)
	}
	if tag.RowsAffected() == 0 {
		return materialize.WriteSkipped, fmt.Sprintf("%s already exists", w.TargetPath), nil
	}
	return materialize.WriteCreated, "", nil
}

func (t *assetTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing asset transaction: %w", err)
	}
	return nil
}

func (t *assetTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back asset transaction: %w", err)
	}
	return nil
}
