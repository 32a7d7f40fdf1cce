package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/udkimport/internal/config"
	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/scripting"
	"github.com/cory-johannsen/udkimport/internal/storage/filestore"
	"github.com/cory-johannsen/udkimport/internal/storage/memory"
	"github.com/cory-johannsen/udkimport/internal/storage/postgres"
)

// assetStore is an asset database that can also enumerate its contents.
type assetStore interface {
	materialize.AssetDatabase
	List(ctx context.Context) ([]string, error)
}

// memoryStore adapts the in-memory store to assetStore.
type memoryStore struct{ *memory.Store }

func (m memoryStore) List(context.Context) ([]string, error) { return m.Paths(), nil }

// openStore connects the configured asset database. The returned cleanup
// must be called once the store is no longer needed.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (assetStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memoryStore{memory.New()}, func() {}, nil
	case config.DriverFS:
		s, err := filestore.New(cfg.Store.OutputDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("database connected", zap.String("host", cfg.Database.Host))
		if cfg.Store.AutoMigrate {
			res, err := pool.Migrate()
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("schema migrated", zap.Uint("version", res.Version), zap.Bool("no_change", res.NoChange))
		}
		return pool.Assets(), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q (supported: fs, memory, postgres)", cfg.Store.Driver)
}

// buildMapper chains the YAML mapping table with the Lua hooks, either of
// which may be unconfigured.
func buildMapper(cfg config.ImportConfig, logger *zap.Logger) (mapping.Mapper, func(), error) {
	table := mapping.Empty()
	if cfg.MappingTable != "" {
		t, err := mapping.Load(cfg.MappingTable)
		if err != nil {
			return nil, nil, fmt.Errorf("loading mapping table: %w", err)
		}
		table = t
	}
	if cfg.ScriptDir == "" {
		return table, func() {}, nil
	}
	mgr := scripting.NewManager(logger)
	if err := mgr.Load(cfg.ScriptDir, cfg.ScriptInstructionLimit); err != nil {
		return nil, nil, fmt.Errorf("loading mapping scripts: %w", err)
	}
	return mapping.Chain(table, mgr), mgr.Close, nil
}

func filtersFrom(f config.FilterConfig) *materialize.Filters {
	return &materialize.Filters{
		StaticMeshes: f.StaticMeshes,
		Materials:    f.Materials,
		Textures:     f.Textures,
		Lights:       f.Lights,
		Brushes:      f.Brushes,
	}
}
