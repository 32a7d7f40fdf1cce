// Package config provides Viper-based configuration loading for the importer.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverFS       = "fs"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, additionally writes JSON logs to a rotated file.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// FilterConfig enables import per category.
type FilterConfig struct {
	StaticMeshes bool `mapstructure:"static_meshes"`
	Materials    bool `mapstructure:"materials"`
	Textures     bool `mapstructure:"textures"`
	Lights       bool `mapstructure:"lights"`
	Brushes      bool `mapstructure:"brushes"`
}

// ImportConfig holds import session settings.
type ImportConfig struct {
	// DestinationRoot prefixes target paths of locally declared assets.
	DestinationRoot string `mapstructure:"destination_root"`
	// CollisionPolicy is "skip", "overwrite" or "rename".
	CollisionPolicy          string  `mapstructure:"collision_policy"`
	MaxParallelImports       int     `mapstructure:"max_parallel_imports"`
	LightIntensityMultiplier float64 `mapstructure:"light_intensity_multiplier"`
	// RequireMaterials makes missing material references fail their node.
	RequireMaterials bool `mapstructure:"require_materials"`
	// AutoExportStaticMeshes imports every declared static mesh, placed or
	// not.
	AutoExportStaticMeshes bool `mapstructure:"auto_export_static_meshes"`
	// MappingTable is an optional path to the YAML mapping table.
	MappingTable string `mapstructure:"mapping_table"`
	// ScriptDir is an optional directory of Lua mapping hooks.
	ScriptDir              string       `mapstructure:"script_dir"`
	ScriptInstructionLimit int          `mapstructure:"script_instruction_limit"`
	MinPackageVersion      uint16       `mapstructure:"min_package_version"`
	MaxPackageVersion      uint16       `mapstructure:"max_package_version"`
	Filters                FilterConfig `mapstructure:"filters"`
}

// StoreConfig selects the asset database.
type StoreConfig struct {
	// Driver is "fs", "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	// OutputDir is the root of the fs store.
	OutputDir string `mapstructure:"output_dir"`
	// AutoMigrate applies schema migrations when the postgres store opens.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Import   ImportConfig   `mapstructure:"import"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateImport(c.Import); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStore(c.Store); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Store.Driver == DriverPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", l.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", l.Format))
	}
	if l.File != "" {
		if l.MaxSizeMB < 1 {
			errs = append(errs, fmt.Sprintf("logging.max_size_mb must be >= 1, got %d", l.MaxSizeMB))
		}
		if l.MaxBackups < 0 || l.MaxAgeDays < 0 {
			errs = append(errs, "logging.max_backups and logging.max_age_days must not be negative")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateImport(i ImportConfig) error {
	var errs []string
	if !strings.HasPrefix(i.DestinationRoot, "/") {
		errs = append(errs, fmt.Sprintf("import.destination_root must start with '/', got %q", i.DestinationRoot))
	}
	validPolicies := map[string]bool{"skip": true, "overwrite": true, "rename": true}
	if !validPolicies[i.CollisionPolicy] {
		errs = append(errs, fmt.Sprintf("import.collision_policy must be one of [skip, overwrite, rename], got %q", i.CollisionPolicy))
	}
	if i.MaxParallelImports < 1 || i.MaxParallelImports > 16 {
		errs = append(errs, fmt.Sprintf("import.max_parallel_imports must be 1-16, got %d", i.MaxParallelImports))
	}
	if i.LightIntensityMultiplier < 0.1 || i.LightIntensityMultiplier > 10000 {
		errs = append(errs, fmt.Sprintf("import.light_intensity_multiplier must be 0.1-10000, got %g", i.LightIntensityMultiplier))
	}
	if i.ScriptInstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("import.script_instruction_limit must be >= 0, got %d", i.ScriptInstructionLimit))
	}
	if i.MinPackageVersion > i.MaxPackageVersion {
		errs = append(errs, fmt.Sprintf("import.min_package_version (%d) must not exceed import.max_package_version (%d)",
			i.MinPackageVersion, i.MaxPackageVersion))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateStore(s StoreConfig) error {
	switch s.Driver {
	case DriverFS:
		if s.OutputDir == "" {
			return errors.New("store.output_dir must not be empty for the fs driver")
		}
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("store.driver must be one of [fs, memory, postgres], got %q", s.Driver)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and UDKIMPORT_ environment
// overrides installed.
//
// Postcondition: Returns a non-nil Viper.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with UDKIMPORT_ prefix
	v.SetEnvPrefix("UDKIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("import.destination_root", "/Game/Imported")
	v.SetDefault("import.collision_policy", "skip")
	v.SetDefault("import.max_parallel_imports", 4)
	v.SetDefault("import.light_intensity_multiplier", 5000.0)
	v.SetDefault("import.require_materials", false)
	v.SetDefault("import.auto_export_static_meshes", false)
	v.SetDefault("import.mapping_table", "")
	v.SetDefault("import.script_dir", "")
	v.SetDefault("import.script_instruction_limit", 100000)
	v.SetDefault("import.min_package_version", 491)
	v.SetDefault("import.max_package_version", 868)
	v.SetDefault("import.filters.static_meshes", true)
	v.SetDefault("import.filters.materials", true)
	v.SetDefault("import.filters.textures", true)
	v.SetDefault("import.filters.lights", true)
	v.SetDefault("import.filters.brushes", true)

	v.SetDefault("store.driver", DriverFS)
	v.SetDefault("store.output_dir", "imported")
	v.SetDefault("store.auto_migrate", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "udkimport")
	v.SetDefault("database.password", "udkimport")
	v.SetDefault("database.name", "udkimport")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
}
