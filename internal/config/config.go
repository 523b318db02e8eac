package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultConfigFileName is looked up in the working directory when no path is given.
const DefaultConfigFileName = "minmatar.toml"

// Config holds application settings.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	SDE      SDEConfig      `toml:"sde"`
	ESI      ESIConfig      `toml:"esi"`
	Industry IndustryConfig `toml:"industry"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port   int    `toml:"port"`
	APIKey string `toml:"api_key"` // empty = admin routes unauthenticated
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type SDEConfig struct {
	DataDir  string `toml:"data_dir"`
	Download bool   `toml:"download"` // fetch the SDE zip when data_dir has no extracted copy
}

type ESIConfig struct {
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Timeout returns the HTTP client timeout.
func (c ESIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type IndustryConfig struct {
	// DepthCeiling bounds breakdown recursion regardless of the caller's max depth.
	DepthCeiling        int `toml:"depth_ceiling"`
	TypeCacheSize       int `toml:"type_cache_size"`
	TypeCacheTTLSeconds int `toml:"type_cache_ttl_seconds"`
}

// TypeCacheTTL returns the type cache entry lifetime.
func (c IndustryConfig) TypeCacheTTL() time.Duration {
	return time.Duration(c.TypeCacheTTLSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 13371,
		},
		Database: DatabaseConfig{
			Path: "minmatar.db",
		},
		SDE: SDEConfig{
			DataDir:  "data",
			Download: true,
		},
		ESI: ESIConfig{
			BaseURL:           "https://esi.evetech.net/latest",
			RequestsPerSecond: 20,
			Burst:             10,
			TimeoutSeconds:    30,
		},
		Industry: IndustryConfig{
			DepthCeiling:        64,
			TypeCacheSize:       4096,
			TypeCacheTTLSeconds: 3600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadError represents an error that occurred while loading configuration.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load builds the configuration from defaults, an optional TOML file, a .env
// file and the environment, in that order of precedence (last wins).
// An explicit path must exist; without one ./minmatar.toml is used if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" && fileExists(DefaultConfigFileName) {
		path = DefaultConfigFileName
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	}

	// .env is optional; real environment variables work without it.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, &LoadError{Path: "environment", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("MINMATAR_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MINMATAR_PORT value: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("MINMATAR_API_KEY"); ok {
		c.Server.APIKey = v
	}
	if v, ok := os.LookupEnv("MINMATAR_DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := os.LookupEnv("MINMATAR_SDE_DIR"); ok {
		c.SDE.DataDir = v
	}
	if v, ok := os.LookupEnv("ESI_BASE_URL"); ok {
		c.ESI.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if strings.TrimSpace(c.SDE.DataDir) == "" {
		errs = append(errs, errors.New("sde.data_dir is required"))
	}
	if c.ESI.BaseURL == "" {
		errs = append(errs, errors.New("esi.base_url is required"))
	}
	if c.ESI.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("esi.requests_per_second must be positive, got %v", c.ESI.RequestsPerSecond))
	}
	if c.ESI.Burst <= 0 {
		errs = append(errs, fmt.Errorf("esi.burst must be positive, got %d", c.ESI.Burst))
	}
	if c.Industry.DepthCeiling <= 0 {
		errs = append(errs, fmt.Errorf("industry.depth_ceiling must be positive, got %d", c.Industry.DepthCeiling))
	}
	if c.Industry.TypeCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("industry.type_cache_size must be positive, got %d", c.Industry.TypeCacheSize))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DataDir returns the absolute SDE directory.
func (c *Config) DataDir() string {
	if filepath.IsAbs(c.SDE.DataDir) {
		return c.SDE.DataDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return c.SDE.DataDir
	}
	return filepath.Join(wd, c.SDE.DataDir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
