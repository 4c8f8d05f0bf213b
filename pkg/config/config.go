// Package config handles configuration for webtest-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr            = ":8080"
	DefaultPoolSize        = 4
	DefaultActionTimeout   = 30 * time.Second
	DefaultOpenTimeout     = 60 * time.Second
	DefaultBrowser         = "chrome"
	DefaultAggregatePolicy = "partial"
	DefaultTracing         = "none"
	DefaultLogLevel        = "info"
)

// Environment variable overrides.
const (
	EnvAddr           = "WEBTEST_ADDR"
	EnvDBDriver       = "WEBTEST_DB_DRIVER"
	EnvDBDSN          = "WEBTEST_DB_DSN"
	EnvRegistry       = "WEBTEST_REGISTRY"
	EnvInterpreterURL = "WEBTEST_INTERPRETER_URL"
	EnvInterpreterKey = "WEBTEST_INTERPRETER_API_KEY"
	EnvPoolSize       = "WEBTEST_POOL_SIZE"
	EnvLogFile        = "WEBTEST_LOG_FILE"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the service configuration (config.yaml).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Registry    string            `yaml:"registry"` // Element registry YAML file
	Blobs       BlobConfig        `yaml:"blobs"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Tracing     string            `yaml:"tracing"` // none, stdout
	Log         LogConfig         `yaml:"log"`

	// Environments maps an environment name to its base URL.
	Environments map[string]string `yaml:"environments"`

	// Definition selection for the run command
	IncludeTags []string          `yaml:"includeTags"`
	ExcludeTags []string          `yaml:"excludeTags"`
	Env         map[string]string `yaml:"env"` // Variables available to every step
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn"`
}

// BlobConfig configures where screenshots are kept.
type BlobConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"baseUrl"` // Public prefix of stored references
}

// ExecutionConfig tunes the engine.
type ExecutionConfig struct {
	PoolSize        int           `yaml:"poolSize"`
	ActionTimeout   time.Duration `yaml:"actionTimeout"`
	OpenTimeout     time.Duration `yaml:"openTimeout"`
	Browser         string        `yaml:"browser"`
	Headless        *bool         `yaml:"headless"`
	AggregatePolicy string        `yaml:"aggregatePolicy"` // partial, strict
}

// IsHeadless reports whether browsers run without a window. Defaults to true.
func (e ExecutionConfig) IsHeadless() bool {
	return e.Headless == nil || *e.Headless
}

// InterpreterConfig configures the fallback interpreter. An empty URL disables it.
type InterpreterConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Default(), nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from WEBTEST_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvDBDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvRegistry); v != "" {
		c.Registry = v
	}
	if v := os.Getenv(EnvInterpreterURL); v != "" {
		c.Interpreter.URL = v
	}
	if v := os.Getenv(EnvInterpreterKey); v != "" {
		c.Interpreter.APIKey = v
	}
	if v := os.Getenv(EnvPoolSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPoolSize, err)
		}
		c.Execution.PoolSize = n
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q (supported: sqlite, postgres, memory)", c.Database.Driver)
	}
	if c.Database.Driver == DriverPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for postgres")
	}
	if c.Execution.PoolSize <= 0 {
		return fmt.Errorf("execution pool size must be positive, got %d", c.Execution.PoolSize)
	}
	switch c.Execution.AggregatePolicy {
	case "partial", "strict":
	default:
		return fmt.Errorf("unknown aggregate policy %q (supported: partial, strict)", c.Execution.AggregatePolicy)
	}
	switch c.Tracing {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown tracing exporter %q (supported: none, stdout)", c.Tracing)
	}
	for name, base := range c.Environments {
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return fmt.Errorf("environment %q: base URL must be http(s), got %q", name, base)
		}
	}
	return nil
}

// DSN returns the database DSN, defaulting SQLite to a file under home.
func (c *Config) DSN() string {
	if c.Database.DSN != "" || c.Database.Driver != DriverSQLite {
		return c.Database.DSN
	}
	return filepath.Join(GetDataDir(), "webtest.db")
}

// BlobDir returns the screenshot directory, defaulting to one under home.
func (c *Config) BlobDir() string {
	if c.Blobs.Dir != "" {
		return c.Blobs.Dir
	}
	return filepath.Join(GetDataDir(), "screenshots")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Execution.PoolSize == 0 {
		c.Execution.PoolSize = DefaultPoolSize
	}
	if c.Execution.ActionTimeout == 0 {
		c.Execution.ActionTimeout = DefaultActionTimeout
	}
	if c.Execution.OpenTimeout == 0 {
		c.Execution.OpenTimeout = DefaultOpenTimeout
	}
	if c.Execution.Browser == "" {
		c.Execution.Browser = DefaultBrowser
	}
	if c.Execution.AggregatePolicy == "" {
		c.Execution.AggregatePolicy = DefaultAggregatePolicy
	}
	if c.Tracing == "" {
		c.Tracing = DefaultTracing
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
