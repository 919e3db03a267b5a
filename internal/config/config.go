// Package config loads the process configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"docsession/internal/storage"
)

// Storage selects and parameterizes the document store backend.
type Storage struct {
	Driver      string `yaml:"driver"`       // memory|sqlite|postgres|badger
	SQLitePath  string `yaml:"sqlite_path"`  // driver=sqlite
	PostgresDSN string `yaml:"postgres_dsn"` // driver=postgres
	BadgerPath  string `yaml:"badger_path"`  // driver=badger
}

// Blob selects the artifact store backend.
type Blob struct {
	Driver string `yaml:"driver"`  // fs|s3|memory
	FSRoot string `yaml:"fs_root"` // driver=fs
}

// Log configures structured logging.
type Log struct {
	Level  string `yaml:"level"`  // debug|info|warn|error (default info)
	Format string `yaml:"format"` // text|json (default text)
}

// Config is the root configuration document.
type Config struct {
	Storage Storage `yaml:"storage"`
	Blob    Blob    `yaml:"blob"`
	Log     Log     `yaml:"log"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Storage: Storage{Driver: string(storage.DriverSQLite)},
		Blob:    Blob{Driver: "fs"},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path when it exists, then applies environment
// overrides. A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overlay := map[string]*string{
		"DOCSESSION_STORAGE_DRIVER": &c.Storage.Driver,
		"DOCSESSION_SQLITE_PATH":    &c.Storage.SQLitePath,
		"DOCSESSION_POSTGRES_DSN":   &c.Storage.PostgresDSN,
		"DOCSESSION_BADGER_PATH":    &c.Storage.BadgerPath,
		"DOCSESSION_BLOB_DRIVER":    &c.Blob.Driver,
		"DOCSESSION_BLOB_FS_ROOT":   &c.Blob.FSRoot,
		"DOCSESSION_LOG_LEVEL":      &c.Log.Level,
		"DOCSESSION_LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range overlay {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

// StorageOptions translates the storage section into the factory options.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver:      storage.Driver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		BadgerPath:  c.Storage.BadgerPath,
	}
}
