// Package daemon wires configuration, storage, the roster service and the
// HTTP server into a running process.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gymsub/gymsub/internal/app/roster"
	"github.com/gymsub/gymsub/internal/infra/observability"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the contents of $GYMSUB_HOME/config.toml.
type Config struct {
	// Home is the data directory the config was loaded for; empty means Home().
	Home string `toml:"-"`

	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and locates the backend.
type StorageConfig struct {
	Driver   string `toml:"driver"`   // sqlite | postgres | memory
	Path     string `toml:"path"`     // sqlite database file (default: $GYMSUB_HOME/gymsub.db)
	DSN      string `toml:"dsn"`      // postgres connection string
	Snapshot string `toml:"snapshot"` // memory driver JSON snapshot file, optional
}

// LedgerConfig controls storage retries. Durations use time.ParseDuration syntax.
type LedgerConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	RetryBase   string `toml:"retry_base"`
	RetryMax    string `toml:"retry_max"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8740,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		Ledger: LedgerConfig{
			MaxAttempts: 5,
			RetryBase:   "25ms",
			RetryMax:    "1s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Home returns the gymsub data directory: $GYMSUB_HOME, else ~/.gymsub.
func Home() string {
	if env := os.Getenv("GYMSUB_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gymsub")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return ConfigPathIn("")
}

// ConfigPathIn returns the config file inside home, or inside Home() when
// home is empty.
func ConfigPathIn(home string) string {
	if home == "" {
		home = Home()
	}
	return filepath.Join(home, "config.toml")
}

// LoadConfig reads path over DefaultConfig, then applies environment
// overrides. A missing file is not an error; unknown keys are.
func LoadConfig(path string) (Config, error) {
	return LoadConfigFrom("", path)
}

// LoadConfigFrom is LoadConfig for an explicit data directory. An empty path
// reads config.toml inside home.
func LoadConfigFrom(home, path string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Home = home
	if path == "" {
		path = ConfigPathIn(home)
	}

	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GYMSUB_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("GYMSUB_POSTGRES_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("GYMSUB_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GYMSUB_API_PORT: %w", err)
		}
		c.API.Port = port
	}
	return nil
}

// Validate checks the values LoadConfig cannot fix up.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q: want sqlite, postgres or memory", c.Storage.Driver)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1")
	}
	if _, err := c.RosterConfig(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format %q: want json or console", c.Log.Format)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// SQLitePath is the database file for the sqlite driver.
func (c Config) SQLitePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.DataDir(), "gymsub.db")
}

// DataDir is the directory holding gymsub's files.
func (c Config) DataDir() string {
	if c.Home != "" {
		return c.Home
	}
	return Home()
}

// RosterConfig converts the ledger section for the roster service.
func (c Config) RosterConfig() (roster.Config, error) {
	rc := roster.DefaultConfig()
	rc.MaxAttempts = c.Ledger.MaxAttempts
	var err error
	if c.Ledger.RetryBase != "" {
		if rc.RetryBase, err = time.ParseDuration(c.Ledger.RetryBase); err != nil {
			return roster.Config{}, fmt.Errorf("ledger.retry_base: %w", err)
		}
	}
	if c.Ledger.RetryMax != "" {
		if rc.RetryMax, err = time.ParseDuration(c.Ledger.RetryMax); err != nil {
			return roster.Config{}, fmt.Errorf("ledger.retry_max: %w", err)
		}
	}
	return rc, nil
}

// LogConfig converts the log section for observability.NewLogger.
func (c Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{Level: c.Log.Level, Format: c.Log.Format}
}

// Write encodes the config as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
