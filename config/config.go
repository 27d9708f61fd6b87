// Package config loads studio-ledger settings from defaults, an optional YAML
// file, a .env file and STUDIO_LEDGER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "STUDIO_LEDGER_"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Accounting AccountingConfig `yaml:"accounting"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file, or ":memory:"
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

type LedgerConfig struct {
	MaxConflictRetries int           `yaml:"max_conflict_retries"` // retries after a version conflict
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`   // 0 disables the background sweep
}

// AccountingConfig points at the downstream finance system. An empty
// Endpoint disables forwarding.
type AccountingConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"` // per attempt
	Retries   int           `yaml:"retries"` // 0 or 1
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // SSE streams stay open
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Path: "./data/studio-ledger.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			MaxConflictRetries: 3,
			ReconcileInterval:  time.Hour,
		},
		Accounting: AccountingConfig{
			Timeout: 5 * time.Second,
			Retries: 1,
		},
	}
}

// Load reads the YAML file at path (a missing file means defaults), then
// applies .env and environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getenv("ADDR", c.Server.Addr)
	if origins := getenv("CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	c.Database.Path = getenv("DB_PATH", c.Database.Path)
	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("LOG_FORMAT", c.Log.Format)
	c.Ledger.MaxConflictRetries = getenvInt("MAX_CONFLICT_RETRIES", c.Ledger.MaxConflictRetries)
	c.Ledger.ReconcileInterval = getenvDuration("RECONCILE_INTERVAL", c.Ledger.ReconcileInterval)
	c.Accounting.Endpoint = getenv("ACCOUNTING_ENDPOINT", c.Accounting.Endpoint)
	c.Accounting.AuthToken = getenv("ACCOUNTING_AUTH_TOKEN", c.Accounting.AuthToken)
	c.Accounting.Timeout = getenvDuration("ACCOUNTING_TIMEOUT", c.Accounting.Timeout)
	c.Accounting.Retries = getenvInt("ACCOUNTING_RETRIES", c.Accounting.Retries)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Ledger.MaxConflictRetries < 0 {
		errs = append(errs, errors.New("ledger.max_conflict_retries must not be negative"))
	}
	if c.Ledger.ReconcileInterval < 0 {
		errs = append(errs, errors.New("ledger.reconcile_interval must not be negative"))
	}
	if c.Accounting.Timeout <= 0 {
		errs = append(errs, errors.New("accounting.timeout must be positive"))
	}
	if c.Accounting.Retries < 0 || c.Accounting.Retries > 1 {
		errs = append(errs, fmt.Errorf("accounting.retries must be 0 or 1, got %d", c.Accounting.Retries))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := getenv(key, "")
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := getenv(key, "")
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
