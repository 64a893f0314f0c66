// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`

	Database struct {
		Path     string `json:"path"`
		InMemory bool   `json:"in_memory"`
	} `json:"database"`

	Store   StoreConfig   `json:"store"`
	Archive ArchiveConfig `json:"archive"`

	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
}

// StoreConfig tunes the per-tenant content store.
type StoreConfig struct {
	MaxFileSize      int64 `json:"max_file_size"`
	CacheSize        int   `json:"cache_size"`
	CompressionLevel int   `json:"compression_level"` // 1=fastest .. 4=best
	MinCompressSize  int   `json:"min_compress_size"`
	// RevertNoop makes a revert to the already-current revision a no-op
	// instead of recording a new revision.
	RevertNoop bool `json:"revert_noop"`
}

type ArchiveConfig struct {
	ImportEnabled bool  `json:"import_enabled"`
	MaxImportSize int64 `json:"max_import_size"`
}

const (
	defaultMaxFileSize   = 10 * 1024 * 1024
	defaultMaxImportSize = 1024 * 1000 * 100
)

// Default returns a configuration usable without a config file.
func Default() *Config {
	var cfg Config
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3100
	cfg.Database.Path = "data"
	cfg.Store = StoreConfig{
		MaxFileSize:      defaultMaxFileSize,
		CacheSize:        1000,
		CompressionLevel: 2,
		MinCompressSize:  1024,
	}
	cfg.Archive = ArchiveConfig{
		MaxImportSize: defaultMaxImportSize,
	}
	cfg.Environment = "development"
	cfg.LogLevel = "info"
	return &cfg
}

// Path returns the config file to load: BOTVAULT_CONFIG when set, else
// config/config.<BOTVAULT_ENV>.json.
func Path() string {
	if p := os.Getenv("BOTVAULT_CONFIG"); p != "" {
		return p
	}
	env := os.Getenv("BOTVAULT_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads path over the defaults, so a file only needs the keys it changes.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !c.Database.InMemory && c.Database.Path == "" {
		return fmt.Errorf("database.path is required unless database.in_memory is set")
	}
	if c.Store.MaxFileSize <= 0 {
		return fmt.Errorf("store.max_file_size must be positive")
	}
	if c.Store.CacheSize <= 0 {
		return fmt.Errorf("store.cache_size must be positive")
	}
	if c.Store.CompressionLevel < 1 || c.Store.CompressionLevel > 4 {
		return fmt.Errorf("store.compression_level must be between 1 and 4")
	}
	if c.Archive.MaxImportSize <= 0 {
		return fmt.Errorf("archive.max_import_size must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
