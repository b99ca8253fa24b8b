package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Gate modes for the startup isolation check.
const (
	GateStrict = "strict"
	GateWarn   = "warn"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr      string
	LogLevel  string
	LogFormat string
}

// Database captures pool and unit-of-work limits.
type Database struct {
	URL string
	// MigrationURL connects as the schema owner. Falls back to URL.
	MigrationURL    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AcquireTimeout  time.Duration
	TxTimeout       time.Duration
}

// Audit captures partition maintenance settings.
type Audit struct {
	PartitionSchedule  string
	PartitionLookahead int
}

// Config is the full process configuration.
type Config struct {
	Server        Server
	Database      Database
	Audit         Audit
	IsolationGate string
}

// Defaults.
const (
	defaultAddr               = ":8080"
	defaultMaxConns           = 10
	defaultMinConns           = 1
	defaultMaxConnLifetime    = 30 * time.Minute
	defaultAcquireTimeout     = 2 * time.Second
	defaultTxTimeout          = 10 * time.Second
	defaultPartitionSchedule  = "@daily"
	defaultPartitionLookahead = 2
)

// Load reads an optional .env file and then builds the config from the
// environment. A missing .env is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:      envOr("TENANTGUARD_ADDR", defaultAddr),
			LogLevel:  envOr("LOG_LEVEL", "info"),
			LogFormat: envOr("LOG_FORMAT", "json"),
		},
		Database: Database{
			URL:          os.Getenv("DATABASE_URL"),
			MigrationURL: os.Getenv("MIGRATION_DATABASE_URL"),
		},
		Audit: Audit{
			PartitionSchedule: envOr("AUDIT_PARTITION_SCHEDULE", defaultPartitionSchedule),
		},
		IsolationGate: strings.ToLower(envOr("ISOLATION_GATE", GateStrict)),
	}
	if cfg.Database.MigrationURL == "" {
		cfg.Database.MigrationURL = cfg.Database.URL
	}

	var errs []error
	cfg.Database.MaxConns = int32(intEnv("DB_MAX_CONNS", defaultMaxConns, &errs))
	cfg.Database.MinConns = int32(intEnv("DB_MIN_CONNS", defaultMinConns, &errs))
	cfg.Database.MaxConnLifetime = durationEnv("DB_MAX_CONN_LIFETIME", defaultMaxConnLifetime, &errs)
	cfg.Database.AcquireTimeout = durationEnv("DB_ACQUIRE_TIMEOUT", defaultAcquireTimeout, &errs)
	cfg.Database.TxTimeout = durationEnv("DB_TX_TIMEOUT", defaultTxTimeout, &errs)
	cfg.Audit.PartitionLookahead = intEnv("AUDIT_PARTITION_LOOKAHEAD", defaultPartitionLookahead, &errs)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.Database.MinConns)
	}
	if c.Database.AcquireTimeout <= 0 {
		return errors.New("DB_ACQUIRE_TIMEOUT must be positive")
	}
	if c.IsolationGate != GateStrict && c.IsolationGate != GateWarn {
		return fmt.Errorf("ISOLATION_GATE must be %q or %q, got %q", GateStrict, GateWarn, c.IsolationGate)
	}
	if c.Audit.PartitionLookahead < 0 {
		return errors.New("AUDIT_PARTITION_LOOKAHEAD must not be negative")
	}
	return nil
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (s Server) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
